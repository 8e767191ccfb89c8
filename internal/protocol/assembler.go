package protocol

// Assembler reassembles fragmented HyBi data frames into messages.
// The zero value is ready to use; MaxSize of zero disables the size bound.
type Assembler struct {
	MaxSize int64

	active bool
	typ    MessageType
	data   []byte
}

// Push feeds one data frame. It returns the completed message and true once a
// FIN frame closes the sequence.
func (a *Assembler) Push(f *Frame) (Message, bool, error) {
	switch f.Opcode {
	case OpText, OpBinary:
		if a.active {
			return Message{}, false, invalidFrame("new %s frame before the fragmented message finished", f.Opcode)
		}
		typ := BinaryMessage
		if f.Opcode == OpText {
			typ = TextMessage
		}
		if f.Fin {
			return Message{Type: typ, Data: f.Payload}, true, nil
		}
		a.active = true
		a.typ = typ
		a.data = append(a.data[:0], f.Payload...)
		return Message{}, false, nil

	case OpContinuation:
		if !a.active {
			return Message{}, false, invalidFrame("continuation frame without a message in progress")
		}
		if a.MaxSize > 0 && int64(len(a.data))+int64(len(f.Payload)) > a.MaxSize {
			a.Reset()
			return Message{}, false, tooBig("fragmented message exceeds limit %d", a.MaxSize)
		}
		a.data = append(a.data, f.Payload...)
		if !f.Fin {
			return Message{}, false, nil
		}
		msg := Message{Type: a.typ, Data: a.data}
		a.active = false
		a.data = nil
		return msg, true, nil

	default:
		return Message{}, false, invalidFrame("%s frame is not a data frame", f.Opcode)
	}
}

// InProgress reports whether a fragmented message is being accumulated.
func (a *Assembler) InProgress() bool {
	return a.active
}

// Reset drops any partially assembled message.
func (a *Assembler) Reset() {
	a.active = false
	a.data = nil
}
