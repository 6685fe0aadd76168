package core

import (
	"encoding/hex"
	"errors"
	"sync"
)

// MockContextFactory implements ContextFactory for testing
type MockContextFactory struct {
	ctx *MockSmartCardContext
	err error
}

func (f *MockContextFactory) EstablishContext() (SmartCardContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ctx, nil
}

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	mu          sync.Mutex
	readers     []string
	cards       map[string]*MockSmartCard
	listErr     error
	presenceErrs   map[string]error
	connectErrs map[string]error
	connects    []string
	released    bool
}

// MockSmartCard implements SmartCard for testing
type MockSmartCard struct {
	mu           sync.Mutex
	atr          []byte
	responses    map[string][]byte // command hex -> response
	sent         []string
	disconnected bool
	disposition  uint32
}

// NewMockContext creates a new mock context with two readers and no cards
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers:     []string{"ACS Reader 0", "ACS Reader 1"},
		cards:       make(map[string]*MockSmartCard),
		presenceErrs:   make(map[string]error),
		connectErrs: make(map[string]error),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers []string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithCard adds a mock card to a specific reader
func (m *MockSmartCardContext) WithCard(readerName string, card *MockSmartCard) *MockSmartCardContext {
	m.cards[readerName] = card
	return m
}

// WithListError makes ListReaders fail
func (m *MockSmartCardContext) WithListError(err error) *MockSmartCardContext {
	m.listErr = err
	return m
}

// WithPresenceError makes the presence check of one reader fail
func (m *MockSmartCardContext) WithPresenceError(readerName string, err error) *MockSmartCardContext {
	m.presenceErrs[readerName] = err
	return m
}

// WithConnectError makes Connect on one reader fail
func (m *MockSmartCardContext) WithConnectError(readerName string, err error) *MockSmartCardContext {
	m.connectErrs[readerName] = err
	return m
}

// Factory wraps the context in a ContextFactory
func (m *MockSmartCardContext) Factory() *MockContextFactory {
	return &MockContextFactory{ctx: m}
}

// Connects returns the readers Connect was called for, in order
func (m *MockSmartCardContext) Connects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.connects...)
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) CardPresent(reader string) (bool, error) {
	if err := m.presenceErrs[reader]; err != nil {
		return false, err
	}
	_, ok := m.cards[reader]
	return ok, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	m.mu.Lock()
	m.connects = append(m.connects, reader)
	m.mu.Unlock()

	if err := m.connectErrs[reader]; err != nil {
		return nil, err
	}
	card, ok := m.cards[reader]
	if !ok {
		return nil, errors.New("no card present")
	}
	return card, nil
}

func (m *MockSmartCardContext) Release() error {
	m.released = true
	return nil
}

// NewMockCard creates a card that answers SELECT of the card manager
func NewMockCard() *MockSmartCard {
	card := &MockSmartCard{
		responses: make(map[string][]byte),
	}
	card.atr, _ = hex.DecodeString("3b8f8001804f0ca000000306030001000000006a")
	card.responses["00a4040008a00000000300000000"] = []byte{0x6f, 0x00, 0x90, 0x00}
	return card
}

// WithResponse sets the response for a command (hex)
func (m *MockSmartCard) WithResponse(cmdHex string, resp []byte) *MockSmartCard {
	m.responses[cmdHex] = resp
	return m
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnected {
		return nil, errors.New("card disconnected")
	}

	cmdHex := hex.EncodeToString(cmd)
	m.sent = append(m.sent, cmdHex)
	if resp, ok := m.responses[cmdHex]; ok {
		return resp, nil
	}

	// Default: instruction not supported
	return []byte{0x6d, 0x00}, nil
}

func (m *MockSmartCard) Status() (SmartCardStatus, error) {
	return SmartCardStatus{
		Reader:         "Mock Reader",
		State:          0x34,
		ActiveProtocol: 2,
		Atr:            m.atr,
	}, nil
}

func (m *MockSmartCard) Disconnect(disposition uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.disposition = disposition
	return nil
}
