// Package rtvoice holds the shared pieces of a push-to-talk voice relay for the
// OpenAI Realtime API.
//
// The relay has two halves. A token broker (package broker) keeps the long-lived
// API key on the server and hands out short-lived session credentials. A voice
// client (package webrtc) uses such a credential to negotiate a WebRTC session
// directly with the remote service, streams microphone audio while push-to-talk
// is held, and sends small JSON control messages over the "oai-events" data
// channel.
//
// This package provides what both halves share:
//   - Config and LoadConfig (viper, godotenv) for the broker and client settings
//   - Credential implementations for Authorization headers
//   - Typed errors for remote failures, capture failures and config validation
//   - A leveled Logger backed by zerolog
//   - Control message types (user.cue, response.create) and inbound message parsing
//   - Session request/response types for the session-creation endpoint
//   - TranscriptAssembler for streamed transcripts of spoken replies
//
// Basic Usage:
//
//	cfg, err := rtvoice.LoadConfig("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cue := rtvoice.NewUserCue(rtvoice.CueShortVersion)
//	b, _ := json.Marshal(cue)
package rtvoice
