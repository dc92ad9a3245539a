package protocol

import (
	"errors"
	"strings"
	"testing"

	"syncboard/internal/models"
)

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := map[string]error{
		`not json`:                   ErrMalformed,
		`{"data":{}}`:                ErrMalformed,
		`{"event":"teleport"}`:       ErrUnknownEvent,
		`{"event":"draw","data":{}}`: nil,
	}
	for frame, want := range cases {
		_, err := Decode([]byte(frame))
		if want == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", frame, err)
			}
			continue
		}
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", frame, want, err)
		}
	}
}

func TestDecodeJoinForms(t *testing.T) {
	for _, frame := range []string{
		`{"event":"joinSession","data":{"sessionId":"room-1"}}`,
		`{"event":"joinSession","data":"room-1"}`,
	} {
		env, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("decode %s: %v", frame, err)
		}
		id, err := DecodeJoin(env)
		if err != nil || id != "room-1" {
			t.Fatalf("join %s: id=%q err=%v", frame, id, err)
		}
	}
	env, _ := Decode([]byte(`{"event":"joinSession","data":{"sessionId":"  "}}`))
	if _, err := DecodeJoin(env); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for blank session, got %v", err)
	}
	env, _ = Decode([]byte(`{"event":"joinSession"}`))
	if _, err := DecodeJoin(env); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for missing data, got %v", err)
	}
}

func TestDecodeColorChangeForms(t *testing.T) {
	for _, frame := range []string{
		`{"event":"colorChange","data":{"color":"#00ff00"}}`,
		`{"event":"colorChange","data":"#00ff00"}`,
	} {
		env, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("decode %s: %v", frame, err)
		}
		cc, err := DecodeColorChange(env)
		if err != nil || cc.Color != "#00ff00" {
			t.Fatalf("color %s: %+v err=%v", frame, cc, err)
		}
	}
	for _, frame := range []string{
		`{"event":"colorChange","data":"green"}`,
		`{"event":"colorChange","data":{"color":"#12"}}`,
		`{"event":"colorChange"}`,
	} {
		env, _ := Decode([]byte(frame))
		if _, err := DecodeColorChange(env); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected malformed for %s, got %v", frame, err)
		}
	}
}

func TestDecodeSegmentValidation(t *testing.T) {
	good := models.StrokeSegment{
		From:  models.Point{X: 1.25, Y: 2.5},
		To:    models.Point{X: 3.125, Y: 4},
		Color: "#ff0000",
		Width: 5,
	}
	frame, err := Encode(EventDraw, good)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(frame), `"event":"draw"`) {
		t.Fatalf("event name missing from %s", frame)
	}
	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := DecodeSegment(env)
	if err != nil || got != good {
		t.Fatalf("segment mismatch: %+v %v", got, err)
	}

	bad := []string{
		`{"event":"draw","data":{"from":{"x":0,"y":0},"to":{"x":1,"y":1},"color":"red","width":5}}`,
		`{"event":"draw","data":{"from":{"x":0,"y":0},"to":{"x":1,"y":1},"color":"#000000","width":0}}`,
		`{"event":"draw","data":{"from":{"x":"a","y":0}}}`,
	}
	for _, frame := range bad {
		env, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("decode %s: %v", frame, err)
		}
		if _, err := DecodeSegment(env); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected malformed, got %v", frame, err)
		}
	}
}

func TestEncodeWithoutPayload(t *testing.T) {
	frame, err := Encode(EventLeaveSession, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(frame) != `{"event":"leaveSession"}` {
		t.Fatalf("unexpected frame %s", frame)
	}
}
