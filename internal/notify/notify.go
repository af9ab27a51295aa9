// Package notify es el colaborador de entrega de códigos y tokens: el core
// solo necesita un Sender best-effort; los fallos de entrega no burbujean al
// caller pero quedan observables vía Recorder en tests.
package notify

import (
	"context"
	"sync"
)

// Channel es el medio de entrega.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Sender entrega un código o token de un solo uso a un destinatario.
type Sender interface {
	Send(ctx context.Context, recipient, code string, ch Channel) error
}

// Message es el último envío registrado (para asserts en tests).
type Message struct {
	Recipient string
	Code      string
	Channel   Channel
}

// Recorder implementa Sender guardando el último mensaje. Thread-safe.
type Recorder struct {
	mu   sync.Mutex
	last *Message
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, recipient, code string, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &Message{Recipient: recipient, Code: code, Channel: ch}
	return nil
}

// Last devuelve el último mensaje enviado, o nil.
func (r *Recorder) Last() *Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
