// Package doctor runs interactive hardware and backend diagnostics.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/encoder"
)

type Config struct {
	WSURL  string
	APIKey string
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). Later checks are skipped once one fails since each builds
// on the previous.
func Run(cfg Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("kanari doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := true

	ctx, device := checkAudioSystem()
	if ctx == nil {
		allPass = false
	}
	if allPass {
		defer ctx.Close()
		if !checkMicrophone(ctx, device) {
			allPass = false
		}
	}
	if allPass && !checkSpeaker(ctx) {
		allPass = false
	}
	if allPass && !checkBackend(cfg) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkAudioSystem() (audio.Context, *audio.DeviceInfo) {
	fmt.Println()
	fmt.Println("[1/4] Audio system")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return nil, nil
	}

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		ctx.Close()
		return nil, nil
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		ctx.Close()
		return nil, nil
	}

	var device *audio.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("  Using device: %s\n", device.Name)
	} else {
		fmt.Println("  Select input device:")
		for i, d := range devices {
			fmt.Printf("    %d. %s\n", i+1, d.Name)
		}
		fmt.Printf("  Choice [1-%d]: ", len(devices))
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		idx := 1
		fmt.Sscanf(strings.TrimSpace(line), "%d", &idx)
		if idx < 1 || idx > len(devices) {
			fmt.Println("  FAIL: invalid choice")
			ctx.Close()
			return nil, nil
		}
		device = &devices[idx-1]
		fmt.Printf("  Selected: %s\n", device.Name)
	}

	if audio.IsBluetooth(device.Name) {
		fmt.Println("  Note: bluetooth mics add latency and can degrade capture quality")
	}
	fmt.Println("  PASS: audio system ready")
	return ctx, device
}

func checkMicrophone(ctx audio.Context, device *audio.DeviceInfo) bool {
	fmt.Println()
	fmt.Println("[2/4] Microphone level")

	capture, err := ctx.NewCapture(device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		fmt.Printf("  FAIL: capture init: %v\n", err)
		return false
	}
	defer capture.Close()

	var mu sync.Mutex
	var peak float64
	capture.SetCallback(func(data []byte, _ uint32) {
		n := len(data) / 2
		if n == 0 {
			return
		}
		var sumSq float64
		for i := 0; i+1 < len(data); i += 2 {
			s := float64(int16(uint16(data[i])|uint16(data[i+1])<<8)) / 32768.0
			sumSq += s * s
		}
		rms := math.Sqrt(sumSq / float64(n))
		mu.Lock()
		if rms > peak {
			peak = rms
		}
		mu.Unlock()
	})

	fmt.Print("  Speak normally for 3 seconds")
	if err := capture.Start(); err != nil {
		fmt.Printf("\n  FAIL: capture start: %v\n", err)
		return false
	}
	for i := 0; i < 3; i++ {
		time.Sleep(time.Second)
		fmt.Print(".")
	}
	fmt.Println()
	capture.Stop()
	capture.ClearCallback()

	mu.Lock()
	p := peak
	mu.Unlock()

	fmt.Printf("  Peak level: %.3f\n", p)
	if p < 0.01 {
		fmt.Println("  FAIL: microphone appears silent - check mute switch and input gain")
		return false
	}
	fmt.Println("  PASS: microphone picking up voice")
	return true
}

func checkSpeaker(ctx audio.Context) bool {
	fmt.Println()
	fmt.Println("[3/4] Speaker playback")

	pb, err := ctx.NewPlayback(audio.PlaybackConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		fmt.Printf("  FAIL: playback init: %v\n", err)
		return false
	}
	defer pb.Close()

	tone := sineTone(440, time.Second)
	var mu sync.Mutex
	pos := 0
	pb.SetSource(func(out []byte) int {
		mu.Lock()
		defer mu.Unlock()
		n := copy(out, tone[pos:])
		pos += n
		return n
	})

	fmt.Println("  Playing a one-second tone...")
	if err := pb.Start(); err != nil {
		fmt.Printf("  FAIL: playback start: %v\n", err)
		return false
	}
	time.Sleep(1500 * time.Millisecond)
	pb.Stop()
	pb.ClearSource()

	fmt.Print("  Did you hear the tone? [y/n]: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	if ans := strings.TrimSpace(strings.ToLower(line)); ans != "y" && ans != "yes" {
		fmt.Println("  FAIL: tone not confirmed - check output device and volume")
		return false
	}
	fmt.Println("  PASS: speaker verified")
	return true
}

func sineTone(freq float64, dur time.Duration) []byte {
	n := int(dur.Seconds() * encoder.SampleRate)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(0.25 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/encoder.SampleRate))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func checkBackend(cfg Config) bool {
	fmt.Println()
	fmt.Println("[4/4] Conversation backend")

	if cfg.APIKey == "" {
		fmt.Println("  FAIL: no API key - set KANARI_API_KEY")
		return false
	}
	if cfg.WSURL == "" {
		fmt.Println("  FAIL: no backend URL - set KANARI_WS_URL")
		return false
	}

	fmt.Printf("  Dialing %s...\n", cfg.WSURL)
	client := convo.NewWSClient(cfg.WSURL, cfg.APIKey)
	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(dialCtx, ""); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	client.Disconnect()
	fmt.Println("  PASS: backend reachable")
	return true
}
