// Package notify turns calendar invitations arriving by mail into ledger
// notifications.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/emersion/go-message"
)

// Invitation is the calendar payload of one mail message.
type Invitation struct {
	Recipients []string
	Method     string
	UIDs       []string
	Date       time.Time
}

var errNoCalendar = errors.New("message has no calendar part")

// ParseInvitation reads a raw RFC 5322 message and collects the VEVENT UIDs
// of every text/calendar or application/ics part.
func ParseInvitation(r io.Reader) (*Invitation, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	inv := &Invitation{}
	if err := collectCalendarParts(entity, inv); err != nil {
		return nil, err
	}
	if len(inv.UIDs) == 0 {
		return nil, errNoCalendar
	}
	return inv, nil
}

func collectCalendarParts(entity *message.Entity, inv *Invitation) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return fmt.Errorf("failed to read part: %w", err)
			}
			if err := collectCalendarParts(p, inv); err != nil {
				return err
			}
		}
	}

	mediaType, params, _ := entity.Header.ContentType()
	if mediaType != "text/calendar" && mediaType != "application/ics" {
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read calendar part: %w", err)
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse calendar part: %w", err)
	}

	if inv.Method == "" {
		inv.Method = strings.ToUpper(params["method"])
		for _, p := range cal.CalendarProperties {
			if p.IANAToken == string(ical.PropertyMethod) {
				inv.Method = strings.ToUpper(p.Value)
			}
		}
	}
	for _, ev := range cal.Events() {
		p := ev.GetProperty(ical.ComponentPropertyUniqueId)
		if p == nil || p.Value == "" || contains(inv.UIDs, p.Value) {
			continue
		}
		inv.UIDs = append(inv.UIDs, p.Value)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
