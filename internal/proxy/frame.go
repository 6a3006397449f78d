package proxy

import (
	"encoding/json"

	nostr "github.com/nbd-wtf/go-nostr"
)

// Frame types the gate inspects.
const (
	FrameEvent  = "EVENT"
	FrameReq    = "REQ"
	FrameClose  = "CLOSE"
	FrameAuth   = "AUTH"
	FrameNotice = "NOTICE"
)

// frame is one raw protocol message plus its parsed type. Unparseable
// frames keep an empty type and are relayed untouched once funded.
type frame struct {
	typ  string
	data []byte
}

func newFrame(data []byte) frame {
	return frame{typ: frameType(data), data: data}
}

// exempt reports whether the frame may be forwarded before the connection
// is funded.
func (f frame) exempt() bool {
	return f.typ == FrameReq || f.typ == FrameClose
}

func frameType(data []byte) string {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) == 0 {
		return ""
	}
	var typ string
	if err := json.Unmarshal(arr[0], &typ); err != nil {
		return ""
	}
	return typ
}

// frameEvent extracts the event carried by an EVENT or AUTH frame.
func frameEvent(data []byte) (*nostr.Event, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, ErrMalformedFrame
	}
	if len(arr) < 2 {
		return nil, ErrMalformedFrame
	}
	var evt nostr.Event
	if err := json.Unmarshal(arr[1], &evt); err != nil {
		return nil, ErrMalformedFrame
	}
	return &evt, nil
}

func noticeFrame(msg string) []byte {
	b, _ := json.Marshal([]string{FrameNotice, msg})
	return b
}

func authFrame(challenge string) []byte {
	b, _ := json.Marshal([]string{FrameAuth, challenge})
	return b
}
