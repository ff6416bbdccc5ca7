package webmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"time"

	"github.com/dj-oyu/spineguard/internal/render"
)

const (
	mjpegKeepalive = 5 * time.Second
	sseKeepalive   = 30 * time.Second
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// waitingJPEG is sent to MJPEG clients until the first overlay arrives.
func waitingJPEG(quality int) ([]byte, error) {
	c := render.NewCanvas(640, 480)
	c.Fill(color.RGBA{R: 15, G: 23, B: 42, A: 255})
	c.Text(20, 40, "Waiting for frames...", color.White)
	return encodeJPEG(c.Image(), quality)
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte, blank []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	last := blank
	for {
		if err := writeMJPEGPart(w, last); err != nil {
			streamLog.Debug("MJPEG client disconnected: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			last = data
		case <-time.After(mjpegKeepalive):
			// No new frame: repeat the last one to keep the connection alive
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

// streamEventsFromChannel streams pre-serialized events to an SSE client.
func streamEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, useProtobuf bool) {
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	// Send headers now so clients see the stream open before the first event
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				streamLog.Debug("SSE client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(sseKeepalive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				streamLog.Debug("SSE client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
