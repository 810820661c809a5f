package ticket_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/robertarktes/event-registrations/internal/ticket"
)

func testClaims() ticket.Claims {
	return ticket.Claims{
		TicketID:    "FEL-0A1B2C3D",
		Event:       "Hackathon <2026>",
		EventID:     "6f1c2b7e-0000-4000-8000-000000000001",
		Participant: "Asha Rao",
		Email:       "asha@example.com",
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	s, err := ticket.NewSigner("secret")
	if err != nil {
		t.Fatal(err)
	}
	signed, err := s.Issue(testClaims())
	if err != nil {
		t.Fatal(err)
	}
	if len(signed.Sig) != ticket.SigLength {
		t.Fatalf("expected %d hex chars, got %q", ticket.SigLength, signed.Sig)
	}
	if !s.Verify(signed.Claims, signed.Sig) {
		t.Fatal("expected issued ticket to verify")
	}
}

func TestSigner_TamperedFieldFails(t *testing.T) {
	s, _ := ticket.NewSigner("secret")
	signed, _ := s.Issue(testClaims())

	mutations := map[string]func(*ticket.Claims){
		"ticketID":    func(c *ticket.Claims) { c.TicketID = "FEL-0A1B2C3E" },
		"event":       func(c *ticket.Claims) { c.Event = "Hackathon" },
		"eventId":     func(c *ticket.Claims) { c.EventID = "other" },
		"participant": func(c *ticket.Claims) { c.Participant = "Asha R" },
		"email":       func(c *ticket.Claims) { c.Email = "mallory@example.com" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := signed.Claims
			mutate(&c)
			if s.Verify(c, signed.Sig) {
				t.Errorf("expected tampered %s to fail verification", name)
			}
		})
	}
}

func TestSigner_DifferentKeyFails(t *testing.T) {
	a, _ := ticket.NewSigner("secret")
	b, _ := ticket.NewSigner("other-secret")
	signed, _ := a.Issue(testClaims())
	if b.Verify(signed.Claims, signed.Sig) {
		t.Error("expected verification with another key to fail")
	}
	if a.Verify(signed.Claims, strings.ToUpper(signed.Sig)+"0") {
		t.Error("expected malformed signature to fail")
	}
}

func TestSigned_JSONShape(t *testing.T) {
	s, _ := ticket.NewSigner("secret")
	signed, _ := s.Issue(testClaims())
	data, err := signed.JSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `{"ticketID":"FEL-0A1B2C3D","event":"Hackathon <2026>",`) {
		t.Errorf("unexpected payload %s", data)
	}
	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["sig"] != signed.Sig || len(decoded) != 6 {
		t.Errorf("unexpected decoded payload %v", decoded)
	}
}

func TestNewTicketID_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := ticket.NewTicketID()
		if err != nil {
			t.Fatal(err)
		}
		if !ticket.ValidTicketID(id) {
			t.Fatalf("bad ticket id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Errorf("expected unique ids, got %d distinct of 100", len(seen))
	}
	code, _ := ticket.NewInviteCode()
	if !ticket.ValidInviteCode(code) {
		t.Errorf("bad invite code %q", code)
	}
}
