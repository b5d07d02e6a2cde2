package ledger

import (
	"strings"
)

// Kind is the closed set of domain events lixiwatch understands.
type Kind string

const (
	KindUnknown       Kind = ""
	KindGiftCreated   Kind = "GiftCreated"
	KindGiftOpened    Kind = "GiftOpened"
	KindGiftRejected  Kind = "GiftRejected"
	KindGiftRefunded  Kind = "GiftRefunded"
	KindLixiCreated   Kind = "LixiCreated"
	KindLixiClaimed   Kind = "LixiClaimed"
	KindLixiLocked    Kind = "LixiLocked"
	KindLixiCompleted Kind = "LixiCompleted"
	KindLixiRefunded  Kind = "LixiRefunded"
)

var giftKinds = []Kind{KindGiftCreated, KindGiftOpened, KindGiftRejected, KindGiftRefunded}

var lixiKinds = []Kind{KindLixiCreated, KindLixiClaimed, KindLixiLocked, KindLixiCompleted, KindLixiRefunded}

// Kinds lists every known kind in polling order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(giftKinds)+len(lixiKinds))
	out = append(out, giftKinds...)
	return append(out, lixiKinds...)
}

// ParseKind resolves a Move event type tag such as
// "0xabc::gifting::GiftCreatedEvent" to its Kind. Matching is on the final
// "::" segment, case-insensitive, with the "Event" suffix and any generic
// parameters optional.
func ParseKind(typeTag string) Kind {
	name := strings.TrimSpace(typeTag)
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, "event")
	if name == "" {
		return KindUnknown
	}
	for _, k := range Kinds() {
		if strings.ToLower(string(k)) == name {
			return k
		}
	}
	return KindUnknown
}

// EventTypes returns the fully-qualified tags to poll for a deployed package.
func EventTypes(packageID, giftModule, lixiModule string) []string {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil
	}
	if giftModule == "" {
		giftModule = "gifting"
	}
	if lixiModule == "" {
		lixiModule = "sui_lixi"
	}
	out := make([]string, 0, len(giftKinds)+len(lixiKinds))
	for _, k := range giftKinds {
		out = append(out, packageID+"::"+giftModule+"::"+string(k)+"Event")
	}
	for _, k := range lixiKinds {
		out = append(out, packageID+"::"+lixiModule+"::"+string(k)+"Event")
	}
	return out
}

// Event is one emitted ledger event. It is read-only to the reconciler.
type Event struct {
	TypeTag     string         `json:"type"`
	Kind        Kind           `json:"kind,omitempty"`
	Payload     map[string]any `json:"payload"`
	TxDigest    string         `json:"txDigest"`
	EventSeq    int64          `json:"eventSeq"`
	TimestampMs int64          `json:"timestampMs"`
}

// String returns the payload field as a string; missing or non-string
// values yield "".
func (e Event) String(field string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[field].(string)
	return s
}

// Value returns the raw payload field (nil when missing).
func (e Event) Value(field string) any {
	if e.Payload == nil {
		return nil
	}
	return e.Payload[field]
}
