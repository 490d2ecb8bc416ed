package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/memorymesh/engine"
)

func feed(events ...engine.Event) <-chan engine.Event {
	ch := make(chan engine.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestPrintTurn_Streaming(t *testing.T) {
	var buf bytes.Buffer
	printTurn(&buf, feed(
		engine.Event{Kind: engine.EventTrace, Step: "ignored"},
		engine.Event{Kind: engine.EventPartial, Partial: "你"},
		engine.Event{Kind: engine.EventPartial, Partial: "你好"},
		engine.Event{Kind: engine.EventFinal, Final: &engine.Final{Answer: "你好"}},
	))
	assert.Equal(t, "你好\n", buf.String())
}

func TestPrintTurn_NonStreaming(t *testing.T) {
	var buf bytes.Buffer
	printTurn(&buf, feed(
		engine.Event{Kind: engine.EventFinal, Final: &engine.Final{Answer: "done"}},
	))
	assert.Equal(t, "done\n", buf.String())
}

func TestPrintTurn_FinalDiffersFromPartial(t *testing.T) {
	var buf bytes.Buffer
	printTurn(&buf, feed(
		engine.Event{Kind: engine.EventPartial, Partial: "部分"},
		engine.Event{Kind: engine.EventFinal, Final: &engine.Final{Answer: "超时"}},
	))
	assert.Equal(t, "部分\n超时\n", buf.String())
}
