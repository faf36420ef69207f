package dataset

import (
	"strconv"
	"strings"
)

// IDDecoder renders token ids as text without a vocabulary. Padding is
// dropped and the reserved tokens print as [CLS] and [SEP].
type IDDecoder struct{}

func (IDDecoder) Decode(ids []int32) string {
	var b strings.Builder
	for _, id := range ids {
		var tok string
		switch id {
		case PadToken:
			continue
		case ClsToken:
			tok = "[CLS]"
		case SepToken:
			tok = "[SEP]"
		default:
			tok = strconv.Itoa(int(id))
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}
