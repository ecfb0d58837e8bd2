// Command testclient checks a running relay: it identifies itself, measures
// a ping round trip and optionally streams a short tone to confirm audio
// reaches the upstream.
package main

import (
	"encoding/json"
	"flag"
	"math"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"transcription-relay/internal/capture"
	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/logging"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Relay WebSocket URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall check timeout")
	tone := flag.Duration("tone", 0, "Stream a 440 Hz tone for this long after identifying")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("Failed to connect")
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(*timeout))

	log.Info().Str("url", *url).Msg("Connected to relay")

	if err := conn.WriteJSON(models.ControlFrame{Type: models.ControlPing, Message: models.ControlIdentifyClient}); err != nil {
		log.Fatal().Err(err).Msg("Failed to send identify")
	}
	identified := await(conn, models.EventClientIdentified)
	log.Info().Str("clientId", identified.ClientID).Msg("Client identified")

	start := time.Now()
	if err := conn.WriteJSON(models.ControlFrame{Type: models.ControlPing}); err != nil {
		log.Fatal().Err(err).Msg("Failed to send ping")
	}
	await(conn, models.EventPong)
	log.Info().Dur("rtt", time.Since(start)).Msg("Ping round trip")

	if *tone > 0 {
		streamTone(conn, *tone)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "check done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// await reads frames until one of the wanted type arrives, logging the rest.
func await(conn *websocket.Conn, want string) models.EventFrame {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Error().Err(err).Str("waitingFor", want).Msg("Relay closed the connection")
			os.Exit(1)
		}
		var frame models.EventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Str("frame", string(data)).Msg("Ignoring unparseable frame")
			continue
		}
		if frame.Type == want {
			return frame
		}
		log.Info().Str("type", frame.Type).Str("text", frame.Text+frame.Delta+frame.Transcript).Msg("Event")
	}
}

func streamTone(conn *websocket.Conn, d time.Duration) {
	const rate = 16000
	const chunk = rate / 10
	n := int(d.Seconds() * rate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	for off := 0; off < n; off += chunk {
		end := min(off+chunk, n)
		if err := conn.WriteMessage(websocket.BinaryMessage, capture.EncodePCM16(samples[off:end])); err != nil {
			log.Error().Err(err).Msg("Failed to send audio")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Info().Dur("duration", d).Msg("Tone streamed")
}
