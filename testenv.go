package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seanesla/kanari-sub001/analyzer"
	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/dispatch"
	"github.com/seanesla/kanari-sub001/log"
	"github.com/seanesla/kanari-sub001/session"
	"github.com/seanesla/kanari-sub001/store"
	"github.com/seanesla/kanari-sub001/transcript"
)

// runTestMode drives a full session headlessly: mic input comes from the
// WAV file through the fake audio context, the backend is a scripted fake,
// and stdin commands play the remote side of the conversation. Used by
// integration harnesses and for poking at the orchestrator without
// hardware or a network.
func runTestMode(wavPath string, cfg appConfig) {
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	client := convo.NewFake()
	anl, err := analyzer.NewBaseline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing analyzer: %v\n", err)
		os.Exit(1)
	}

	mem := store.NewMemory()
	orch := session.New(session.Config{
		Audio:       fakeCtx,
		Client:      client,
		Store:       mem,
		Scheduler:   store.NewBlockScheduler(mem),
		Analyzer:    anl,
		Detector:    analyzer.NewRuleDetector(),
		Timezone:    cfg.Timezone,
		RecordAudio: cfg.ArchiveAudio,
		OnState: func(from, to session.State) {
			fmt.Printf("state: %s -> %s\n", from, to)
		},
		OnTranscript: func(msgs []transcript.Message) {
			if len(msgs) == 0 {
				return
			}
			last := msgs[len(msgs)-1]
			if !last.IsStreaming {
				fmt.Printf("transcript: %s: %s\n", last.Role, last.Content)
			}
		},
		OnWidgets: func(ws []dispatch.Widget) {
			for _, w := range ws {
				fmt.Printf("widget: %s %s [%s]\n", w.Kind, w.Title, w.Status)
			}
		},
	})

	// One chunk of assistant audio, enough to flip the playback state.
	silentChunk := base64.StdEncoding.EncodeToString(make([]byte, 4096))

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "", "#":

		case "START":
			if err := orch.Start(session.StartOptions{UserGesture: true}); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case "ASSISTANT":
			client.EmitModelTranscript(arg, true)

		case "CHUNK":
			client.EmitAudioChunk(silentChunk)

		case "TURN":
			client.EmitTurnComplete()

		case "USER_START":
			client.EmitUserSpeechStart()

		case "SAY":
			client.EmitUserTranscript(arg, true)

		case "USER_END":
			client.EmitUserSpeechEnd()

		case "SCHEDULE":
			client.EmitWidget(scheduleCall(arg))

		case "INTERRUPT":
			orch.InterruptAssistant()

		case "DISCONNECT":
			client.EmitDisconnected("remote closed")

		case "END":
			if err := orch.End(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
			if rec := orch.Record(); rec != nil {
				fmt.Printf("record: %d messages, %.1fs\n", len(rec.Messages), rec.DurationS())
			}

		case "STATE":
			fmt.Printf("state: %s\n", orch.State())

		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}

		case "QUIT":
			orch.End()
			return

		default:
			fmt.Printf("unknown command: %s\n", cmd)
		}
	}
}

// scheduleCall builds a schedule_activity tool call from "title|date|time|min".
func scheduleCall(arg string) convo.ToolCall {
	parts := strings.Split(arg, "|")
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	dur, _ := strconv.Atoi(parts[3])
	if dur == 0 {
		dur = 30
	}
	args, _ := json.Marshal(map[string]any{
		"title":        parts[0],
		"date":         parts[1],
		"time":         parts[2],
		"duration_min": dur,
	})
	return convo.ToolCall{ID: "script", Name: "schedule_activity", Args: args}
}
