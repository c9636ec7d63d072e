// Package msg implements the message envelope: a fixed binary header per
// message class followed by a codec container payload.
//
// A decoded Msg borrows its byte fields from the input buffer. Use Clone to
// keep one past the lifetime of that buffer.
package msg

import "fmt"

// Class is the message class.
type Class uint8

const (
	ClassRequest Class = 1
	ClassRefresh Class = 2
	ClassStatus  Class = 3
	ClassUpdate  Class = 4
	ClassClose   Class = 5
	ClassAck     Class = 6
	ClassGeneric Class = 7
	ClassPost    Class = 8
)

var classNames = map[Class]string{
	ClassRequest: "Request",
	ClassRefresh: "Refresh",
	ClassStatus:  "Status",
	ClassUpdate:  "Update",
	ClassClose:   "Close",
	ClassAck:     "Ack",
	ClassGeneric: "Generic",
	ClassPost:    "Post",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Domain is the message model type of a stream.
type Domain uint8

const (
	DomainLogin         Domain = 1
	DomainSource        Domain = 4
	DomainDictionary    Domain = 5
	DomainMarketPrice   Domain = 6
	DomainMarketByOrder Domain = 7
	DomainMarketByPrice Domain = 8
	DomainMarketMaker   Domain = 9
	DomainSymbolList    Domain = 10
	// DomainSystem carries tunnel streams.
	DomainSystem Domain = 127
)

var domainNames = map[Domain]string{
	DomainLogin:         "Login",
	DomainSource:        "Source",
	DomainDictionary:    "Dictionary",
	DomainMarketPrice:   "MarketPrice",
	DomainMarketByOrder: "MarketByOrder",
	DomainMarketByPrice: "MarketByPrice",
	DomainMarketMaker:   "MarketMaker",
	DomainSymbolList:    "SymbolList",
	DomainSystem:        "System",
}

func (d Domain) String() string {
	if s, ok := domainNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Domain(%d)", uint8(d))
}

// ParseDomain resolves a domain by name.
func ParseDomain(s string) (Domain, bool) {
	for d, name := range domainNames {
		if name == s {
			return d, true
		}
	}
	return 0, false
}

// PostUserInfo identifies the user that originated a post.
type PostUserInfo struct {
	Address uint32
	UserID  uint32
}

// NakCode qualifies a negative acknowledgement.
type NakCode uint8

const (
	NakNone           NakCode = 0
	NakAccessDenied   NakCode = 1
	NakDeniedBySource NakCode = 2
	NakSourceDown     NakCode = 3
	NakSourceUnknown  NakCode = 4
	NakNoResources    NakCode = 5
	NakNoResponse     NakCode = 6
	NakGatewayDown    NakCode = 7
	NakSymbolUnknown  NakCode = 10
	NakNotOpen        NakCode = 11
	NakInvalidContent NakCode = 12
)

// UpdateType classifies an update for display and conflation.
type UpdateType uint8

const (
	UpdateUnspecified UpdateType = 0
	UpdateQuote       UpdateType = 1
	UpdateTrade       UpdateType = 2
	UpdateNewsAlert   UpdateType = 3
	UpdateCorrection  UpdateType = 5
	UpdateClosingRun  UpdateType = 6
)
