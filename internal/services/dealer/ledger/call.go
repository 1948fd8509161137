package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Arg is one argument of a Move call: an object reference or pure bytes.
type Arg struct {
	Object string
	Pure   []byte
}

// ObjectArg references an on-ledger object.
func ObjectArg(id string) Arg {
	return Arg{Object: id}
}

// BytesArg passes a vector<u8>.
func BytesArg(b []byte) Arg {
	return Arg{Pure: append([]byte(nil), b...)}
}

// U64Arg passes a little-endian u64.
func U64Arg(v uint64) Arg {
	return Arg{Pure: binary.LittleEndian.AppendUint64(nil, v)}
}

// IsObject reports whether the argument references an object.
func (a Arg) IsObject() bool {
	return a.Object != ""
}

// Uint64 decodes a U64Arg.
func (a Arg) Uint64() (uint64, error) {
	if len(a.Pure) != 8 {
		return 0, fmt.Errorf("u64 argument has %d bytes", len(a.Pure))
	}
	return binary.LittleEndian.Uint64(a.Pure), nil
}

// Call is a single Move entry-point call, the transaction kind the house
// submits.
type Call struct {
	Package  string
	Module   string
	Function string
	Args     []Arg
}

// Target returns "package::module::function".
func (c Call) Target() string {
	return c.Package + "::" + c.Module + "::" + c.Function
}

// TransactionData is the sponsored transaction: the call plus who sends it
// and who pays.
type TransactionData struct {
	Kind       []byte
	Sender     string
	GasOwner   string
	GasPayment string
	GasBudget  uint64
}

const (
	tagObject byte = 1
	tagPure   byte = 2
)

// EncodeCall serializes a call as the transaction kind bytes.
func EncodeCall(c Call) []byte {
	var w encoder
	w.str(c.Package)
	w.str(c.Module)
	w.str(c.Function)
	w.uvarint(uint64(len(c.Args)))
	for _, a := range c.Args {
		if a.IsObject() {
			w.byte(tagObject)
			w.str(a.Object)
			continue
		}
		w.byte(tagPure)
		w.bytes(a.Pure)
	}
	return w.buf
}

// DecodeCall parses bytes produced by EncodeCall.
func DecodeCall(b []byte) (Call, error) {
	r := decoder{buf: b}
	c := Call{
		Package:  r.str(),
		Module:   r.str(),
		Function: r.str(),
	}
	n := r.uvarint()
	if r.err == nil && n > uint64(len(b)) {
		return Call{}, errors.New("decode call: argument count out of range")
	}
	for i := uint64(0); i < n && r.err == nil; i++ {
		switch tag := r.byte(); tag {
		case tagObject:
			c.Args = append(c.Args, Arg{Object: r.str()})
		case tagPure:
			c.Args = append(c.Args, Arg{Pure: r.bytes()})
		default:
			if r.err == nil {
				r.err = fmt.Errorf("unknown argument tag %d", tag)
			}
		}
	}
	if err := r.finish(); err != nil {
		return Call{}, fmt.Errorf("decode call: %w", err)
	}
	return c, nil
}

// Encode serializes the transaction data. These are the bytes both the
// house and the sponsor sign.
func (t TransactionData) Encode() []byte {
	var w encoder
	w.bytes(t.Kind)
	w.str(t.Sender)
	w.str(t.GasOwner)
	w.str(t.GasPayment)
	w.uvarint(t.GasBudget)
	return w.buf
}

// DecodeTransactionData parses bytes produced by TransactionData.Encode.
func DecodeTransactionData(b []byte) (TransactionData, error) {
	r := decoder{buf: b}
	t := TransactionData{
		Kind:       r.bytes(),
		Sender:     r.str(),
		GasOwner:   r.str(),
		GasPayment: r.str(),
		GasBudget:  r.uvarint(),
	}
	if err := r.finish(); err != nil {
		return TransactionData{}, fmt.Errorf("decode transaction data: %w", err)
	}
	return t, nil
}

type encoder struct {
	buf []byte
}

func (w *encoder) byte(b byte) { w.buf = append(w.buf, b) }

func (w *encoder) uvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *encoder) bytes(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *encoder) str(s string) { w.bytes([]byte(s)) }

type decoder struct {
	buf []byte
	err error
}

var errShortBuffer = errors.New("unexpected end of input")

func (r *decoder) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.err = errShortBuffer
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *decoder) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errShortBuffer
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *decoder) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)) {
		r.err = errShortBuffer
		return nil
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out
}

func (r *decoder) str() string { return string(r.bytes()) }

func (r *decoder) finish() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%d trailing bytes", len(r.buf))
	}
	return nil
}
