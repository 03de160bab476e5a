// Command mockstt is a stand-in transcription service for local development.
// It accepts the same multipart requests the real service does and returns
// canned responses, with optional artificial latency and failure injection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type transcriptionResponse struct {
	Text        string    `json:"text"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Language    string    `json:"language,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

var cannedLines = []string{
	"Alice: Let's walk through the quarterly roadmap before we run out of time.",
	"Bob: I think the migration should land in the first sprint.",
	"Alice: Agreed, and we still need a decision on the storage layer.",
	"Carol: I can take the action item to draft the proposal by Friday.",
	"Bob: Sounds good, let's sync again on Thursday.",
}

type mockServer struct {
	latency     time.Duration
	failureRate float64
	confidence  float64
	omitScore   bool
	responseIdx int
}

func (s *mockServer) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	chunkID := r.FormValue("chunk_id")
	startMs := r.FormValue("start_ms")
	endMs := r.FormValue("end_ms")
	language := r.FormValue("language")

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("request: chunk=%s range=%s-%sms file=%s size=%d lang=%s",
		chunkID, startMs, endMs, header.Filename, len(audioData), language)

	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	if s.failureRate > 0 && rand.Float64() < s.failureRate {
		log.Printf("injected failure for chunk=%s", chunkID)
		http.Error(w, "simulated backend failure", http.StatusInternalServerError)
		return
	}

	response := transcriptionResponse{
		Text:        cannedLines[s.responseIdx%len(cannedLines)],
		Language:    "en",
		ProcessedAt: time.Now(),
	}
	s.responseIdx++
	if !s.omitScore {
		c := s.confidence
		response.Confidence = &c
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("response: chunk=%s text=%q", chunkID, response.Text)
}

func main() {
	port := flag.Int("port", 9000, "Listen port")
	latency := flag.Duration("latency", 200*time.Millisecond, "Artificial processing delay per request")
	failureRate := flag.Float64("failure-rate", 0, "Fraction of requests answered with HTTP 500")
	confidence := flag.Float64("confidence", 0.95, "Confidence score attached to responses")
	omitScore := flag.Bool("omit-confidence", false, "Leave the confidence field out of responses")
	flag.Parse()

	s := &mockServer{
		latency:     *latency,
		failureRate: *failureRate,
		confidence:  *confidence,
		omitScore:   *omitScore,
	}

	http.HandleFunc("/transcribe", s.transcribeHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock transcription server listening on %s", addr)
	log.Printf("point the transcriber at http://localhost%s/transcribe", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("server failed to start:", err)
	}
}
