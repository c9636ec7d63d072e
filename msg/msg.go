package msg

import "github.com/pithecene-io/sluice/codec"

// Msg is the envelope shared by every class. Body holds the class-specific
// part and is one of *Request, *Refresh, *Update, *Status, *Close, *Post,
// *Ack or *Generic.
type Msg struct {
	Domain        Domain
	StreamID      int32
	ContainerType codec.DataType
	// Key is nil when the message carries no key.
	Key *Key
	// ExtendedHeader is nil when absent.
	ExtendedHeader []byte
	// Payload is the encoded container of type ContainerType.
	Payload []byte

	Body Body

	encodeStart int
}

// Body is the class-specific part of a message.
type Body interface {
	Class() Class
	encode(it *codec.EncodeIterator) error
	decode(r *codec.Reader)
	clone() Body
}

// Class returns the class of the message body, 0 if there is none.
func (m *Msg) Class() Class {
	if m.Body == nil {
		return 0
	}
	return m.Body.Class()
}

// RequestFlags qualify a Request.
type RequestFlags uint16

const (
	RequestHasPriority       RequestFlags = 0x0001
	RequestStreaming         RequestFlags = 0x0002
	RequestMsgKeyInUpdates   RequestFlags = 0x0004
	RequestConfInfoInUpdates RequestFlags = 0x0008
	RequestNoRefresh         RequestFlags = 0x0010
	RequestHasQos            RequestFlags = 0x0020
	RequestHasWorstQos       RequestFlags = 0x0040
	RequestPrivateStream     RequestFlags = 0x0080
	RequestPause             RequestFlags = 0x0100
	RequestHasView           RequestFlags = 0x0200
	RequestHasBatch          RequestFlags = 0x0400
	RequestQualifiedStream   RequestFlags = 0x0800
)

// Request opens or reissues a stream.
type Request struct {
	Flags         RequestFlags
	PriorityClass uint8
	PriorityCount uint16
	Qos           codec.Qos
	WorstQos      codec.Qos
}

func (*Request) Class() Class { return ClassRequest }

// Streaming reports whether the request asks for updates after the refresh.
func (r *Request) Streaming() bool { return r.Flags&RequestStreaming != 0 }

// RefreshFlags qualify a Refresh.
type RefreshFlags uint16

const (
	RefreshSolicited       RefreshFlags = 0x0001
	RefreshComplete        RefreshFlags = 0x0002
	RefreshClearCache      RefreshFlags = 0x0004
	RefreshDoNotCache      RefreshFlags = 0x0008
	RefreshPrivateStream   RefreshFlags = 0x0010
	RefreshQualifiedStream RefreshFlags = 0x0020
	RefreshHasPermData     RefreshFlags = 0x0040
	RefreshHasSeqNum       RefreshFlags = 0x0080
	RefreshHasPartNum      RefreshFlags = 0x0100
	RefreshHasQos          RefreshFlags = 0x0200
	RefreshHasPostUserInfo RefreshFlags = 0x0400
)

// Refresh carries the image of an item.
type Refresh struct {
	Flags        RefreshFlags
	State        codec.State
	GroupID      []byte
	PermData     []byte
	SeqNum       uint32
	PartNum      uint16
	Qos          codec.Qos
	PostUserInfo PostUserInfo
}

func (*Refresh) Class() Class { return ClassRefresh }

// Complete reports whether this is the final part of the refresh.
func (r *Refresh) Complete() bool { return r.Flags&RefreshComplete != 0 }

// Solicited reports whether the refresh answers a request.
func (r *Refresh) Solicited() bool { return r.Flags&RefreshSolicited != 0 }

// UpdateFlags qualify an Update.
type UpdateFlags uint16

const (
	UpdateHasSeqNum       UpdateFlags = 0x0001
	UpdateHasConfInfo     UpdateFlags = 0x0002
	UpdateHasPermData     UpdateFlags = 0x0004
	UpdateDoNotCache      UpdateFlags = 0x0008
	UpdateDoNotConflate   UpdateFlags = 0x0010
	UpdateDoNotRipple     UpdateFlags = 0x0020
	UpdateHasPostUserInfo UpdateFlags = 0x0040
	UpdateDiscardable     UpdateFlags = 0x0080
)

// Update carries changes to an item.
type Update struct {
	Flags          UpdateFlags
	UpdateType     UpdateType
	SeqNum         uint32
	ConflatedCount uint16
	ConflatedTime  uint16
	PermData       []byte
	PostUserInfo   PostUserInfo
}

func (*Update) Class() Class { return ClassUpdate }

// StatusFlags qualify a Status.
type StatusFlags uint16

const (
	StatusHasState        StatusFlags = 0x0001
	StatusHasGroupID      StatusFlags = 0x0002
	StatusHasPermData     StatusFlags = 0x0004
	StatusClearCache      StatusFlags = 0x0008
	StatusPrivateStream   StatusFlags = 0x0010
	StatusHasPostUserInfo StatusFlags = 0x0020
	StatusQualified       StatusFlags = 0x0040
)

// Status carries a state change without data.
type Status struct {
	Flags        StatusFlags
	State        codec.State
	GroupID      []byte
	PermData     []byte
	PostUserInfo PostUserInfo
}

func (*Status) Class() Class { return ClassStatus }

// CloseFlags qualify a Close.
type CloseFlags uint16

const (
	CloseAck   CloseFlags = 0x0001
	CloseBatch CloseFlags = 0x0002
)

// Close ends a stream.
type Close struct {
	Flags CloseFlags
}

func (*Close) Class() Class { return ClassClose }

// PostFlags qualify a Post.
type PostFlags uint16

const (
	PostHasPostID         PostFlags = 0x0001
	PostHasSeqNum         PostFlags = 0x0002
	PostComplete          PostFlags = 0x0004
	PostAck               PostFlags = 0x0008
	PostHasPartNum        PostFlags = 0x0010
	PostHasPostUserRights PostFlags = 0x0020
	PostHasPermData       PostFlags = 0x0040
)

// Post contributes data upstream.
type Post struct {
	Flags          PostFlags
	PostUserInfo   PostUserInfo
	PostID         uint32
	SeqNum         uint32
	PartNum        uint16
	PostUserRights uint16
	PermData       []byte
}

func (*Post) Class() Class { return ClassPost }

// AckFlags qualify an Ack.
type AckFlags uint16

const (
	AckHasText       AckFlags = 0x0001
	AckHasSeqNum     AckFlags = 0x0002
	AckHasNakCode    AckFlags = 0x0004
	AckPrivateStream AckFlags = 0x0008
	AckQualified     AckFlags = 0x0010
)

// Ack acknowledges a post or a close.
type Ack struct {
	Flags   AckFlags
	AckID   uint32
	NakCode NakCode
	Text    []byte
	SeqNum  uint32
}

func (*Ack) Class() Class { return ClassAck }

// IsNak reports whether the ack is negative.
func (a *Ack) IsNak() bool { return a.Flags&AckHasNakCode != 0 && a.NakCode != NakNone }

// GenericFlags qualify a Generic.
type GenericFlags uint16

const (
	GenericHasSeqNum          GenericFlags = 0x0001
	GenericHasSecondarySeqNum GenericFlags = 0x0002
	GenericComplete           GenericFlags = 0x0004
	GenericHasPermData        GenericFlags = 0x0008
	GenericHasPartNum         GenericFlags = 0x0010
	GenericProviderDriven     GenericFlags = 0x0020
)

// Generic is a bidirectional message with no defined semantics.
type Generic struct {
	Flags           GenericFlags
	SeqNum          uint32
	SecondarySeqNum uint32
	PartNum         uint16
	PermData        []byte
}

func (*Generic) Class() Class { return ClassGeneric }
