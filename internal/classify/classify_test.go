package classify

import (
	"encoding/json"
	"strings"
	"testing"

	"lixiwatch/internal/history"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/inbox"
	"lixiwatch/internal/ledger"
)

func event(kind ledger.Kind, payload map[string]any) ledger.Event {
	return ledger.Event{
		TypeTag:     "0xpkg::mod::" + string(kind) + "Event",
		Kind:        kind,
		Payload:     payload,
		TxDigest:    "0xabc",
		TimestampMs: 1_700_000_000_000,
	}
}

func kinds(out []Output) []inbox.Kind {
	var ks []inbox.Kind
	for _, o := range out {
		ks = append(ks, o.Notification.Kind)
	}
	return ks
}

func TestGiftCreatedScenario(t *testing.T) {
	t.Parallel()

	ev := event(ledger.KindGiftCreated, map[string]any{
		"sender":          "0xSENDER",
		"recipient_email": "a@x.com",
		"amount":          "1500000000",
		"gift_id":         "0xgift",
	})

	sender := Classify(ev, identity.Viewer{Address: "0xSENDER"}, Options{})
	if len(sender) != 1 {
		t.Fatalf("sender outputs=%d", len(sender))
	}
	n, h := sender[0].Notification, sender[0].History
	if n.Kind != inbox.KindGiftSent || n.Amount != "1.5000" || n.SubjectID != "0xgift" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.TimestampMs != ev.TimestampMs || n.TxDigest != "0xabc" {
		t.Fatalf("notification should carry event identity: %+v", n)
	}
	if h == nil || h.Direction != history.Debit || !strings.HasPrefix(h.Amount, "-1.5000") {
		t.Fatalf("unexpected history: %+v", h)
	}
	if h.Amount != "-1.5000 SUI" {
		t.Fatalf("history amount=%q", h.Amount)
	}

	recipient := Classify(ev, identity.Viewer{Address: "0xOTHER", Email: "a@x.com"}, Options{})
	if len(recipient) != 1 {
		t.Fatalf("recipient outputs=%d", len(recipient))
	}
	if recipient[0].Notification.Kind != inbox.KindGiftReceived || recipient[0].History != nil {
		t.Fatalf("unexpected recipient output: %+v", recipient[0])
	}
}

func TestLixiClaimedByAddressWithoutEmail(t *testing.T) {
	t.Parallel()

	ev := event(ledger.KindLixiClaimed, map[string]any{
		"claimer":       "0xME",
		"claimer_email": nil,
		"creator":       "0xCREATOR",
		"amount":        json.Number("250000000"),
		"lixi_id":       "0xlixi",
	})
	out := Classify(ev, identity.Viewer{Address: "0xme"}, Options{})
	if len(out) != 1 {
		t.Fatalf("outputs=%d", len(out))
	}
	o := out[0]
	if o.Notification.Kind != inbox.KindLixiClaimed || o.Notification.Amount != "0.2500" {
		t.Fatalf("unexpected notification: %+v", o.Notification)
	}
	if o.History == nil || o.History.Direction != history.Credit || o.History.Amount != "+0.2500 SUI" {
		t.Fatalf("unexpected history: %+v", o.History)
	}
}

func TestSelfGiftFansOut(t *testing.T) {
	t.Parallel()

	ev := event(ledger.KindGiftOpened, map[string]any{
		"sender":          "0xME",
		"recipient":       "0xSOMEONE",
		"recipient_email": "me@x.com",
		"amount":          "1000000000",
	})
	out := Classify(ev, identity.Viewer{Address: "0xME", Email: "me@x.com"}, Options{})
	if len(out) != 2 {
		t.Fatalf("outputs=%d want 2", len(out))
	}
	if out[0].History == nil || out[1].History == nil {
		t.Fatalf("both roles should carry history")
	}
	if out[0].History.Direction != history.Debit || out[1].History.Direction != history.Credit {
		t.Fatalf("directions=%s,%s", out[0].History.Direction, out[1].History.Direction)
	}
}

func TestRoutingTable(t *testing.T) {
	t.Parallel()

	me := identity.Viewer{Address: "0xme", Email: "me@x.com"}
	cases := []struct {
		name    string
		kind    ledger.Kind
		payload map[string]any
		want    []inbox.Kind
		dirs    []history.Direction
	}{
		{"gift created for someone else", ledger.KindGiftCreated, map[string]any{"sender": "0xother", "recipient_email": "b@x.com"}, nil, nil},
		{"gift opened as recipient address", ledger.KindGiftOpened, map[string]any{"sender": "0xother", "recipient": "0xme"}, []inbox.Kind{inbox.KindGiftReceived}, []history.Direction{history.Credit}},
		{"gift rejected as sender", ledger.KindGiftRejected, map[string]any{"sender": "0xme"}, []inbox.Kind{inbox.KindGiftRejected}, []history.Direction{history.Refund}},
		{"gift rejected as recipient", ledger.KindGiftRejected, map[string]any{"sender": "0xother", "recipient": "0xme"}, nil, nil},
		{"gift refunded as sender", ledger.KindGiftRefunded, map[string]any{"sender": "0xme", "amount": "1"}, []inbox.Kind{inbox.KindGiftRefunded}, []history.Direction{history.Refund}},
		{"lixi created", ledger.KindLixiCreated, map[string]any{"creator": "0xme", "total_amount": "3000000000"}, []inbox.Kind{inbox.KindLixiCreated}, []history.Direction{history.Debit}},
		{"lixi claimed by email", ledger.KindLixiClaimed, map[string]any{"claimer": "0xother", "claimer_email": "ME@x.com"}, []inbox.Kind{inbox.KindLixiClaimed}, []history.Direction{history.Credit}},
		{"lixi claimed seen by creator", ledger.KindLixiClaimed, map[string]any{"claimer": "0xother", "creator": "0xme"}, []inbox.Kind{inbox.KindLixiClaimedCreator}, []history.Direction{""}},
		{"lixi refunded", ledger.KindLixiRefunded, map[string]any{"creator": "0xme", "refunded_amount": "500000000"}, []inbox.Kind{inbox.KindLixiRefunded}, []history.Direction{history.Refund}},
		{"lixi locked", ledger.KindLixiLocked, map[string]any{"creator": "0xme"}, []inbox.Kind{inbox.KindLixiLocked}, []history.Direction{""}},
		{"lixi completed", ledger.KindLixiCompleted, map[string]any{"creator": "0xme", "total_claimers": json.Number("5")}, []inbox.Kind{inbox.KindLixiCompleted}, []history.Direction{""}},
		{"lixi completed for other creator", ledger.KindLixiCompleted, map[string]any{"creator": "0xother"}, nil, nil},
		{"unknown kind", ledger.KindUnknown, map[string]any{"sender": "0xme"}, nil, nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := Classify(event(tc.kind, tc.payload), me, Options{})
			got := kinds(out)
			if len(got) != len(tc.want) {
				t.Fatalf("kinds=%v want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("kinds=%v want %v", got, tc.want)
				}
				var dir history.Direction
				if out[i].History != nil {
					dir = out[i].History.Direction
				}
				if dir != tc.dirs[i] {
					t.Fatalf("output %d direction=%q want %q", i, dir, tc.dirs[i])
				}
			}
		})
	}
}

func TestMissingFieldsNeverPanic(t *testing.T) {
	t.Parallel()

	me := identity.Viewer{Address: "0xme"}
	for _, k := range ledger.Kinds() {
		ev := ledger.Event{Kind: k}
		if out := Classify(ev, me, Options{}); len(out) != 0 {
			t.Fatalf("%s with empty payload should match no role, got %v", k, kinds(out))
		}
	}

	ev := event(ledger.KindGiftRejected, map[string]any{"sender": "0xme", "amount": map[string]any{"weird": true}})
	out := Classify(ev, me, Options{})
	if len(out) != 1 || out[0].Notification.Amount != "0.0000" {
		t.Fatalf("unparsable amount should render as zero: %+v", out)
	}
}

func TestEmptyViewerMatchesNothing(t *testing.T) {
	t.Parallel()

	ev := event(ledger.KindGiftOpened, map[string]any{"sender": "", "recipient": "", "recipient_email": ""})
	if out := Classify(ev, identity.Viewer{}, Options{}); len(out) != 0 {
		t.Fatalf("empty viewer should match nothing, got %v", kinds(out))
	}
}

func TestKindResolvedFromTypeTag(t *testing.T) {
	t.Parallel()

	ev := ledger.Event{
		TypeTag: "0xpkg::sui_lixi::LixiLockedEvent",
		Payload: map[string]any{"creator": "0xme"},
	}
	out := Classify(ev, identity.Viewer{Address: "0xme"}, Options{Currency: "MIST"})
	if len(out) != 1 || out[0].Notification.Kind != inbox.KindLixiLocked {
		t.Fatalf("unexpected outputs: %v", kinds(out))
	}
}

func TestClaimerLabel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload map[string]any
		want    string
	}{
		{map[string]any{"claimer_email": "c@x.com", "claimer": "0x1234567890abcdef"}, "c@x.com claimed"},
		{map[string]any{"claimer": "0x1234567890abcdef"}, "0x1234...cdef claimed"},
		{map[string]any{}, "Someone claimed"},
	}
	for _, tc := range cases {
		tc.payload["creator"] = "0xme"
		out := Classify(event(ledger.KindLixiClaimed, tc.payload), identity.Viewer{Address: "0xme"}, Options{})
		if len(out) != 1 {
			t.Fatalf("outputs=%d want 1", len(out))
		}
		if !strings.HasPrefix(out[0].Notification.Message, tc.want) {
			t.Fatalf("message=%q want prefix %q", out[0].Notification.Message, tc.want)
		}
	}
}
