package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pithecene-io/sluice/failure"
)

// Timeliness of a Qos.
type Timeliness uint8

const (
	TimelinessUnspecified    Timeliness = 0
	TimelinessRealtime       Timeliness = 1
	TimelinessDelayedUnknown Timeliness = 2
	TimelinessDelayed        Timeliness = 3
)

// Rate of a Qos.
type Rate uint8

const (
	RateUnspecified   Rate = 0
	RateTickByTick    Rate = 1
	RateJITConflated  Rate = 2
	RateTimeConflated Rate = 3
)

// Qos is a quality-of-service descriptor. TimeInfo is present when
// Timeliness is Delayed; RateInfo when Rate is TimeConflated.
type Qos struct {
	Timeliness Timeliness
	Rate       Rate
	Dynamic    bool
	TimeInfo   uint16
	RateInfo   uint16
	Blank      bool
}

// RealtimeTickByTick is the default requested Qos.
var RealtimeTickByTick = Qos{Timeliness: TimelinessRealtime, Rate: RateTickByTick}

func (Qos) DataType() DataType { return DataTypeQos }
func (q Qos) IsBlank() bool     { return q.Blank }

func (q Qos) appendValue(dst []byte, _ Version) ([]byte, error) {
	if q.Timeliness > TimelinessDelayed || q.Rate > RateTimeConflated {
		return dst, failure.Usage("encode qos", "invalid qos %d/%d", q.Timeliness, q.Rate)
	}
	b := uint8(q.Timeliness)<<5 | uint8(q.Rate)<<1
	if q.Dynamic {
		b |= 0x01
	}
	dst = append(dst, b)
	if q.Timeliness == TimelinessDelayed {
		dst = binary.BigEndian.AppendUint16(dst, q.TimeInfo)
	}
	if q.Rate == RateTimeConflated {
		dst = binary.BigEndian.AppendUint16(dst, q.RateInfo)
	}
	return dst, nil
}

// ReadQos reads a Qos from r.
func ReadQos(r *Reader) Qos {
	b := r.U8()
	q := Qos{
		Timeliness: Timeliness(b >> 5),
		Rate:       Rate(b >> 1 & 0x0F),
		Dynamic:    b&0x01 != 0,
	}
	if q.Timeliness == TimelinessDelayed {
		q.TimeInfo = r.U16()
	}
	if q.Rate == RateTimeConflated {
		q.RateInfo = r.U16()
	}
	return q
}

// DecodeQos decodes a Qos value.
func DecodeQos(b []byte) (Qos, error) {
	if len(b) == 0 {
		return Qos{Blank: true}, nil
	}
	r := NewReader(b, "decode qos")
	q := ReadQos(r)
	if r.Remaining() != 0 {
		r.Fail("%d trailing bytes", r.Remaining())
	}
	return q, r.Err()
}

// IsBetter reports whether q is strictly better than o: lower delay first,
// then faster rate.
func (q Qos) IsBetter(o Qos) bool {
	if q.Timeliness != o.Timeliness {
		return q.timelinessRank() < o.timelinessRank()
	}
	return q.rateRank() < o.rateRank()
}

func (q Qos) timelinessRank() uint32 {
	switch q.Timeliness {
	case TimelinessRealtime:
		return 0
	case TimelinessDelayed:
		return 1 + uint32(q.TimeInfo)
	case TimelinessDelayedUnknown:
		return 0x20000
	}
	return 0x30000
}

func (q Qos) rateRank() uint32 {
	switch q.Rate {
	case RateTickByTick:
		return 0
	case RateJITConflated:
		return 0x20000
	case RateTimeConflated:
		return 1 + uint32(q.RateInfo)
	}
	return 0x30000
}

// InRange reports whether q lies between best and worst, inclusive.
func (q Qos) InRange(best, worst Qos) bool {
	return !q.IsBetter(best) && !worst.IsBetter(q)
}

func (q Qos) String() string {
	if q.Blank {
		return ""
	}
	return fmt.Sprintf("timeliness=%d rate=%d dynamic=%t", q.Timeliness, q.Rate, q.Dynamic)
}

// StreamState is the state of a stream carried in Refresh and Status.
type StreamState uint8

const (
	StreamStateUnspecified   StreamState = 0
	StreamStateOpen          StreamState = 1
	StreamStateNonStreaming  StreamState = 2
	StreamStateClosedRecover StreamState = 3
	StreamStateClosed        StreamState = 4
	StreamStateRedirected    StreamState = 5
)

var streamStateNames = [...]string{"Unspecified", "Open", "NonStreaming", "ClosedRecover", "Closed", "Redirected"}

func (s StreamState) String() string {
	if int(s) < len(streamStateNames) {
		return streamStateNames[s]
	}
	return fmt.Sprintf("StreamState(%d)", uint8(s))
}

// DataState is the health of data on a stream.
type DataState uint8

const (
	DataStateNoChange DataState = 0
	DataStateOK       DataState = 1
	DataStateSuspect  DataState = 2
)

func (d DataState) String() string {
	switch d {
	case DataStateNoChange:
		return "NoChange"
	case DataStateOK:
		return "Ok"
	case DataStateSuspect:
		return "Suspect"
	}
	return fmt.Sprintf("DataState(%d)", uint8(d))
}

// StateCode qualifies a State.
type StateCode uint8

const (
	StateCodeNone              StateCode = 0
	StateCodeNotFound          StateCode = 1
	StateCodeTimeout           StateCode = 2
	StateCodeNotEntitled       StateCode = 3
	StateCodeInvalidArgument   StateCode = 4
	StateCodeUsageError        StateCode = 5
	StateCodePreempted         StateCode = 6
	StateCodeJITConflation     StateCode = 7
	StateCodeRealtimeResumed   StateCode = 8
	StateCodeFailoverStarted   StateCode = 9
	StateCodeFailoverCompleted StateCode = 10
	StateCodeGapDetected       StateCode = 11
	StateCodeNoResources       StateCode = 12
	StateCodeTooManyItems      StateCode = 13
	StateCodeAlreadyOpen       StateCode = 14
	StateCodeSourceUnknown     StateCode = 15
	StateCodeNotOpen           StateCode = 16
	StateCodeNonUpdatingItem   StateCode = 19
	StateCodeUnsupportedView   StateCode = 20
	StateCodeInvalidView       StateCode = 21
	StateCodeFullViewProvided  StateCode = 22
	StateCodeUnableToRequest   StateCode = 23
	StateCodeDNSError          StateCode = 28
	StateCodeNoBatchView       StateCode = 29
	StateCodeGapFill           StateCode = 30
	StateCodeAppAuthorization  StateCode = 31
	StateCodeError             StateCode = 32
)

// State is stream state, data state, code and text.
type State struct {
	Stream StreamState
	Data   DataState
	Code   StateCode
	Text   []byte
	Blank  bool
}

func (State) DataType() DataType { return DataTypeState }
func (s State) IsBlank() bool     { return s.Blank }

func (s State) appendValue(dst []byte, _ Version) ([]byte, error) {
	if s.Stream > StreamStateRedirected || s.Data > DataStateSuspect {
		return dst, failure.Usage("encode state", "invalid state %d/%d", s.Stream, s.Data)
	}
	if len(s.Text) > maxU15 {
		return dst, failure.Usage("encode state", "text length %d exceeds %d", len(s.Text), maxU15)
	}
	dst = append(dst, uint8(s.Stream)<<3|uint8(s.Data), uint8(s.Code))
	if len(s.Text) < 0x80 {
		dst = append(dst, uint8(len(s.Text)))
	} else {
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(s.Text))|0x8000)
	}
	return append(dst, s.Text...), nil
}

// WriteState appends s to it without a length prefix.
func WriteState(it *EncodeIterator, s State) error {
	it.scratch = it.scratch[:0]
	var err error
	it.scratch, err = s.appendValue(it.scratch, it.version)
	if err != nil {
		return err
	}
	return it.WriteBytes(it.scratch)
}

// WriteQos appends q to it without a length prefix.
func WriteQos(it *EncodeIterator, q Qos) error {
	it.scratch = it.scratch[:0]
	var err error
	it.scratch, err = q.appendValue(it.scratch, it.version)
	if err != nil {
		return err
	}
	return it.WriteBytes(it.scratch)
}

// ReadState reads a State from r. Text is borrowed.
func ReadState(r *Reader) State {
	b := r.U8()
	return State{
		Stream: StreamState(b >> 3),
		Data:   DataState(b & 0x07),
		Code:   StateCode(r.U8()),
		Text:   r.Buffer15(),
	}
}

// DecodeState decodes a State value.
func DecodeState(b []byte) (State, error) {
	if len(b) == 0 {
		return State{Blank: true}, nil
	}
	r := NewReader(b, "decode state")
	s := ReadState(r)
	if r.Remaining() != 0 {
		r.Fail("%d trailing bytes", r.Remaining())
	}
	return s, r.Err()
}

func (s State) String() string {
	if s.Blank {
		return ""
	}
	return fmt.Sprintf("%s/%s/%d %q", s.Stream, s.Data, s.Code, s.Text)
}
