/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package wire

import (
	"bytes"
	"testing"
)

func TestWriterReaderSingleMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	body := []byte("ping")
	total := FrameLen(len(body))
	if err := w.WriteConnectionHeader(uint32(total), true); err != nil {
		t.Fatalf("WriteConnectionHeader: %v", err)
	}
	if err := w.WriteMessage(body); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	isRequest, outcome := r.ReadRequest()
	if outcome != OutcomeOK {
		t.Fatalf("ReadRequest outcome = %v", outcome)
	}
	if !isRequest {
		t.Fatalf("isRequest = false, want true")
	}
	got, done, outcome := r.ReadMessage()
	if outcome != OutcomeOK || done {
		t.Fatalf("ReadMessage = (%q, %v, %v)", got, done, outcome)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("ReadMessage body = %q, want %q", got, body)
	}
	_, done, outcome = r.ReadMessage()
	if outcome != OutcomeOK || !done {
		t.Fatalf("final ReadMessage = (done=%v, outcome=%v), want done", done, outcome)
	}
}

func TestWriterReaderMultipleMessagesInOneRequest(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	total := 0
	for _, m := range msgs {
		total += FrameLen(len(m))
	}
	if err := w.WriteConnectionHeader(uint32(total), true); err != nil {
		t.Fatalf("WriteConnectionHeader: %v", err)
	}
	for _, m := range msgs {
		if err := w.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	if _, outcome := r.ReadRequest(); outcome != OutcomeOK {
		t.Fatalf("ReadRequest outcome = %v", outcome)
	}
	for i, want := range msgs {
		got, done, outcome := r.ReadMessage()
		if outcome != OutcomeOK || done {
			t.Fatalf("message %d: outcome=%v done=%v", i, outcome, done)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("message %d = %q, want %q", i, got, want)
		}
	}
	if _, done, outcome := r.ReadMessage(); outcome != OutcomeOK || !done {
		t.Fatalf("expected done after draining residual")
	}
}

func TestWriterReaderStatusMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	body := []byte("result")
	total := 1 + len(body) + SizeForValueLen(1+len(body))
	if err := w.WriteConnectionHeader(uint32(total), false); err != nil {
		t.Fatalf("WriteConnectionHeader: %v", err)
	}
	if err := w.WriteMessageAndStatus(7, body); err != nil {
		t.Fatalf("WriteMessageAndStatus: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	isRequest, outcome := r.ReadRequest()
	if outcome != OutcomeOK || isRequest {
		t.Fatalf("ReadRequest = (isRequest=%v, outcome=%v), want response direction", isRequest, outcome)
	}
	got, done, outcome := r.ReadMessage()
	if outcome != OutcomeOK || done {
		t.Fatalf("ReadMessage outcome=%v done=%v", outcome, done)
	}
	if got[0] != 7 {
		t.Fatalf("status byte = %d, want 7", got[0])
	}
	if !bytes.Equal(got[1:], body) {
		t.Fatalf("body = %q, want %q", got[1:], body)
	}
}

func TestReaderOversizeMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	body := bytes.Repeat([]byte("q"), BufSize*2)
	total := FrameLen(len(body))
	if err := w.WriteConnectionHeader(uint32(total), true); err != nil {
		t.Fatalf("WriteConnectionHeader: %v", err)
	}
	if err := w.WriteMessage(body); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	if _, outcome := r.ReadRequest(); outcome != OutcomeOK {
		t.Fatalf("ReadRequest outcome = %v", outcome)
	}
	got, done, outcome := r.ReadMessage()
	if outcome != OutcomeOK || done {
		t.Fatalf("oversize ReadMessage outcome=%v done=%v", outcome, done)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("oversize body mismatch, got len %d want %d", len(got), len(body))
	}
}

func TestReaderClosedConnection(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, outcome := r.ReadRequest()
	if outcome != OutcomeClosed {
		t.Fatalf("outcome = %v, want OutcomeClosed", outcome)
	}
}

func TestReaderTruncatedHeaderIsError(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3}))
	_, outcome := r.ReadRequest()
	if outcome != OutcomeError {
		t.Fatalf("outcome = %v, want OutcomeError", outcome)
	}
}
