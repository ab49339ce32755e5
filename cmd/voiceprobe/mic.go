package main

import (
	"context"

	"github.com/suPer8Hu/voice-tutor/internal/voice"
)

// virtualMic stands in for a capture device. Its stream is always live.
type virtualMic struct{}

func (virtualMic) Acquire(context.Context) (voice.Stream, error) { return virtualStream{}, nil }

type virtualStream struct{}

func (virtualStream) Live() bool     { return true }
func (virtualStream) Release() error { return nil }
