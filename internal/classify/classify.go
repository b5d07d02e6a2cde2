package classify

import (
	"fmt"
	"strings"

	"lixiwatch/internal/history"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/inbox"
	"lixiwatch/internal/ledger"
)

const DefaultCurrency = "SUI"

type Options struct {
	// Currency suffixes history amounts and message text.
	Currency string
}

// Output is one role's view of an event. History is nil for purely
// informational notifications.
type Output struct {
	Notification inbox.Input
	History      *history.Input
}

// Classify maps ev to zero or more outputs for viewer v. An event that
// involves none of the viewer's roles yields nil.
func Classify(ev ledger.Event, v identity.Viewer, opt Options) []Output {
	if opt.Currency == "" {
		opt.Currency = DefaultCurrency
	}
	kind := ev.Kind
	if kind == ledger.KindUnknown {
		kind = ledger.ParseKind(ev.TypeTag)
	}
	c := classifier{ev: ev, v: v.Normalize(), cur: opt.Currency}

	switch kind {
	case ledger.KindGiftCreated:
		return c.giftCreated()
	case ledger.KindGiftOpened:
		return c.giftOpened()
	case ledger.KindGiftRejected:
		return c.giftRejected()
	case ledger.KindGiftRefunded:
		return c.giftRefunded()
	case ledger.KindLixiCreated:
		return c.lixiCreated()
	case ledger.KindLixiClaimed:
		return c.lixiClaimed()
	case ledger.KindLixiRefunded:
		return c.lixiRefunded()
	case ledger.KindLixiLocked:
		return c.lixiLocked()
	case ledger.KindLixiCompleted:
		return c.lixiCompleted()
	}
	return nil
}

type classifier struct {
	ev  ledger.Event
	v   identity.Viewer
	cur string
	out []Output
}

// isAddress is false whenever either side is empty.
func (c *classifier) isAddress(field string) bool {
	got := strings.ToLower(strings.TrimSpace(c.ev.String(field)))
	return got != "" && got == c.v.Address
}

func (c *classifier) isEmail(field string) bool {
	got := strings.ToLower(strings.TrimSpace(c.ev.String(field)))
	return c.v.Email != "" && got == c.v.Email
}

func (c *classifier) amount(field string) string {
	return ledger.FormatUnits(c.ev.Value(field))
}

func (c *classifier) emit(kind inbox.Kind, title, message, subject, amount string, h *history.Input) {
	n := inbox.Input{
		Kind:        kind,
		Title:       title,
		Message:     message,
		SubjectID:   subject,
		Amount:      amount,
		TimestampMs: c.ev.TimestampMs,
		TxDigest:    c.ev.TxDigest,
	}
	if h != nil {
		h.TimestampMs = c.ev.TimestampMs
	}
	c.out = append(c.out, Output{Notification: n, History: h})
}

func (c *classifier) entry(title string, dir history.Direction, amount string) *history.Input {
	sign := "+"
	if dir == history.Debit {
		sign = "-"
	}
	return &history.Input{Title: title, Amount: sign + amount + " " + c.cur, Direction: dir}
}

func (c *classifier) giftCreated() []Output {
	amt := c.amount("amount")
	gift := c.ev.String("gift_id")
	if c.isAddress("sender") {
		to := c.ev.String("recipient_email")
		if to == "" {
			to = "the recipient"
		}
		c.emit(inbox.KindGiftSent, "Gift created",
			fmt.Sprintf("Sent %s %s to %s.", amt, c.cur, to),
			gift, amt, c.entry("Gift sent", history.Debit, amt))
	}
	// Funds move only when the gift is opened, so no history yet.
	if c.isEmail("recipient_email") {
		c.emit(inbox.KindGiftReceived, "You have a new gift",
			fmt.Sprintf("Someone sent you %s %s. Open it to claim.", amt, c.cur),
			gift, amt, nil)
	}
	return c.out
}

func (c *classifier) giftOpened() []Output {
	amt := c.amount("amount")
	gift := c.ev.String("gift_id")
	if c.isAddress("sender") {
		c.emit(inbox.KindGiftOpened, "Your gift was opened",
			fmt.Sprintf("The recipient opened your %s %s gift.", amt, c.cur),
			gift, amt, c.entry("Gift opened", history.Debit, amt))
	}
	if c.isAddress("recipient") || c.isEmail("recipient_email") {
		c.emit(inbox.KindGiftReceived, "You received a gift",
			fmt.Sprintf("You received %s %s.", amt, c.cur),
			gift, amt, c.entry("Gift received", history.Credit, amt))
	}
	return c.out
}

func (c *classifier) giftRejected() []Output {
	if !c.isAddress("sender") {
		return nil
	}
	amt := c.amount("amount")
	c.emit(inbox.KindGiftRejected, "Gift returned",
		fmt.Sprintf("The recipient declined. %s %s is back in your wallet.", amt, c.cur),
		c.ev.String("gift_id"), amt, c.entry("Gift returned", history.Refund, amt))
	return c.out
}

func (c *classifier) giftRefunded() []Output {
	if !c.isAddress("sender") {
		return nil
	}
	amt := c.amount("amount")
	c.emit(inbox.KindGiftRefunded, "Gift refunded",
		fmt.Sprintf("%s %s refunded to your wallet.", amt, c.cur),
		c.ev.String("gift_id"), amt, c.entry("Gift refund", history.Refund, amt))
	return c.out
}

func (c *classifier) lixiCreated() []Output {
	if !c.isAddress("creator") {
		return nil
	}
	amt := c.amount("total_amount")
	c.emit(inbox.KindLixiCreated, "Lixi envelope created",
		fmt.Sprintf("%s %s set aside for your lixi.", amt, c.cur),
		c.ev.String("lixi_id"), amt, c.entry("Lixi created", history.Debit, amt))
	return c.out
}

func (c *classifier) lixiClaimed() []Output {
	amt := c.amount("amount")
	lixi := c.ev.String("lixi_id")
	if c.isAddress("claimer") || c.isEmail("claimer_email") {
		c.emit(inbox.KindLixiClaimed, "You claimed a lixi",
			fmt.Sprintf("You received %s %s.", amt, c.cur),
			lixi, amt, c.entry("Lixi claimed", history.Credit, amt))
	}
	if c.isAddress("creator") {
		c.emit(inbox.KindLixiClaimedCreator, "Someone claimed your lixi",
			fmt.Sprintf("%s claimed %s %s.", c.claimerLabel(), amt, c.cur),
			lixi, amt, nil)
	}
	return c.out
}

func (c *classifier) lixiRefunded() []Output {
	if !c.isAddress("creator") {
		return nil
	}
	amt := c.amount("refunded_amount")
	c.emit(inbox.KindLixiRefunded, "Lixi refunded",
		fmt.Sprintf("%s %s refunded to your wallet.", amt, c.cur),
		c.ev.String("lixi_id"), amt, c.entry("Lixi refund", history.Refund, amt))
	return c.out
}

func (c *classifier) lixiLocked() []Output {
	if !c.isAddress("creator") {
		return nil
	}
	c.emit(inbox.KindLixiLocked, "Lixi locked", "Your lixi envelope is locked.",
		c.ev.String("lixi_id"), "", nil)
	return c.out
}

func (c *classifier) lixiCompleted() []Output {
	if !c.isAddress("creator") {
		return nil
	}
	claimers := "0"
	if v := c.ev.Value("total_claimers"); v != nil {
		claimers = fmt.Sprint(v)
	}
	c.emit(inbox.KindLixiCompleted, "Lixi completed",
		fmt.Sprintf("All %s claims on your lixi are in.", claimers),
		c.ev.String("lixi_id"), "", nil)
	return c.out
}

// claimerLabel prefers the claimer's email, then a shortened address.
func (c *classifier) claimerLabel() string {
	if e := strings.TrimSpace(c.ev.String("claimer_email")); e != "" {
		return e
	}
	return ShortAddress(c.ev.String("claimer"))
}

// ShortAddress renders "0x1234...abcd", or "Someone" for an empty address.
func ShortAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		return "Someone"
	case len(addr) <= 10:
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
