package message

import (
	"reqrep-rpc/codec"

	"github.com/cockroachdb/errors"
)

// Request is one decoded call: the function name and the still-encoded arguments.
type Request struct {
	Name string
	Args []byte
}

// ParseRequest reads the name from body and leaves the remaining bytes as Args.
// Args aliases body.
func ParseRequest(body []byte) (*Request, error) {
	b := codec.NewBuffer(body)
	name, err := b.ReadString()
	if err != nil {
		return nil, errors.Wrap(err, "read function name")
	}
	return &Request{Name: name, Args: b.Current()}, nil
}

// Encode writes the request back into its wire form.
func (r *Request) Encode(b *codec.Buffer) {
	b.WriteString(r.Name)
	b.WriteRawData(r.Args)
}
