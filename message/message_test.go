package message

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

type codedError struct{ code int }

func (e codedError) Error() string { return fmt.Sprintf("coded %d", e.code) }
func (e codedError) Code() int     { return e.code }

func TestFromError(t *testing.T) {
	re := FromError(errors.New("Bad call."))
	if re.Message != "Bad call." || re.Code != 0 {
		t.Fatalf("unexpected remote error: %+v", re)
	}

	re = FromError(errors.Wrap(codedError{code: 7}, "handler"))
	if re.Code != 7 {
		t.Fatalf("expect code 7, got %d", re.Code)
	}

	orig := &RemoteError{Code: 3, Message: "relayed"}
	if got := FromError(errors.Wrap(orig, "hop")); got != orig {
		t.Fatalf("expect remote error to be forwarded, got %+v", got)
	}
}

func TestMapRoundTrip(t *testing.T) {
	orig := &RemoteError{Code: 12, Message: "boom", Type: "TypeError"}

	obj := orig.Map()
	// JSON numbers decode as float64
	obj["code"] = float64(obj["code"].(int))

	got := FromMap(obj)
	if *got != *orig {
		t.Fatalf("expect %+v, got %+v", orig, got)
	}
}

func TestFromMapDefaults(t *testing.T) {
	got := FromMap(map[string]any{"code": "ENOENT", "message": 5})
	if got.Message != "No message." {
		t.Errorf("expect placeholder message, got %q", got.Message)
	}
	if got.Code != 0 {
		t.Errorf("expect string code to be dropped, got %d", got.Code)
	}
}
