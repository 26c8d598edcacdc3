// Package testutil holds in-memory stand-ins for the database, the messaging
// provider and the realtime publisher.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private, migrated in-memory SQLite database.
func NewDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Sent is one call recorded by FakeProvider.
type Sent struct {
	Kind        string
	To          string
	Body        string
	ReplyTo     string
	Button      string
	Buttons     []models.InteractiveButton
	Sections    []models.InteractiveSection
	PhoneNumber string
}

// FakeProvider records sends and answers with sequential message ids.
type FakeProvider struct {
	mu   sync.Mutex
	sent []Sent
	seq  int
	Err  error
}

func (f *FakeProvider) record(creds whatsapp.Credentials, s Sent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	s.PhoneNumber = creds.PhoneNumberID
	f.sent = append(f.sent, s)
	f.seq++
	return fmt.Sprintf("wamid.out.%d", f.seq), nil
}

func (f *FakeProvider) SendText(_ context.Context, creds whatsapp.Credentials, to, body, replyTo string) (string, error) {
	return f.record(creds, Sent{Kind: "text", To: to, Body: body, ReplyTo: replyTo})
}

func (f *FakeProvider) SendButtons(_ context.Context, creds whatsapp.Credentials, to, body string, buttons []models.InteractiveButton) (string, error) {
	return f.record(creds, Sent{Kind: "buttons", To: to, Body: body, Buttons: buttons})
}

func (f *FakeProvider) SendList(_ context.Context, creds whatsapp.Credentials, to, body, button string, sections []models.InteractiveSection) (string, error) {
	return f.record(creds, Sent{Kind: "list", To: to, Body: body, Button: button, Sections: sections})
}

func (f *FakeProvider) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// Bodies lists the bodies of every send, in order.
func (f *FakeProvider) Bodies() []string {
	var out []string
	for _, s := range f.Sent() {
		out = append(out, s.Body)
	}
	return out
}

func (f *FakeProvider) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type Published struct {
	Name    string
	Payload interface{}
}

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Published
}

func (p *RecordingPublisher) Publish(_ context.Context, name string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Name: name, Payload: payload})
}

func (p *RecordingPublisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.events))
	copy(out, p.events)
	return out
}

// Named returns the events published under name.
func (p *RecordingPublisher) Named(name string) []Published {
	var out []Published
	for _, e := range p.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// SeedNumber creates a WABA account and business number with a token.
func SeedNumber(db *gorm.DB, phoneNumberID string, flowID *uint) (*models.PhoneNumber, error) {
	acct := models.WabaAccount{Name: "Test WABA", WabaID: "waba-" + phoneNumberID, AccessToken: "token-" + phoneNumberID}
	if err := db.Create(&acct).Error; err != nil {
		return nil, err
	}
	pn := models.PhoneNumber{
		PhoneNumberName:   "Sales",
		PhoneNumberID:     phoneNumberID,
		WabaAccountID:     acct.ID,
		ActiveBotFlowID:   flowID,
		IsFollowUpEnabled: true,
		IsReviewEnabled:   true,
	}
	if err := db.Create(&pn).Error; err != nil {
		return nil, err
	}
	pn.WabaAccount = acct
	return &pn, nil
}

// SeedFlow stores a small lead-capture flow:
//
//	welcome -> ask_name -> ask_email -> ask_type (Buy: ask_budget, Rent: END)
//	ask_budget (Under 1M: END, 1M+: vip) -> vip -> END
func SeedFlow(db *gorm.DB) (*models.BotFlow, error) {
	flow := models.BotFlow{
		Name:         "Lead capture",
		StartNodeKey: "welcome",
		Nodes: []models.BotNode{
			{NodeKey: "welcome", MessageType: models.NodeText, MessageText: "Welcome to Capital Avenue!", NextNodeKey: "ask_name"},
			{NodeKey: "ask_name", MessageType: models.NodeText, MessageText: "What is your name?", SaveToField: "name", NextNodeKey: "ask_email"},
			{NodeKey: "ask_email", MessageType: models.NodeText, MessageText: "Hi {{name}}, what is your email?", SaveToField: "email", NextNodeKey: "ask_type"},
			{
				NodeKey:     "ask_type",
				MessageType: models.NodeButtons,
				MessageText: "Are you looking to buy or rent?",
				SaveToField: "propertyType",
				Buttons: datatypes.NewJSONType([]models.NodeButton{
					{Title: "Buy", NextNodeKey: "ask_budget"},
					{Title: "Rent", NextNodeKey: models.StateEnd},
				}),
			},
			{
				NodeKey:     "ask_budget",
				MessageType: models.NodeList,
				MessageText: "What is your budget for {{projectName}}?",
				SaveToField: "budget",
				ListSections: datatypes.NewJSONType([]models.ListSection{{
					Title: "Budget",
					Rows: []models.ListRow{
						{Title: "Under 1M", NextNodeKey: models.StateEnd},
						{Title: "1M+", NextNodeKey: "vip"},
					},
				}}),
			},
			{NodeKey: "vip", MessageType: models.NodeText, MessageText: "A senior consultant will call you today.", NextNodeKey: models.StateEnd},
			{NodeKey: models.StateEnd, MessageType: models.NodeText, MessageText: "Thanks {{name}}, we'll be in touch."},
		},
	}
	if err := db.Create(&flow).Error; err != nil {
		return nil, err
	}
	return &flow, nil
}
