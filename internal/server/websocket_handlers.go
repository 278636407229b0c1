package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Message types exchanged on /ws.
const (
	MessagePredict    = "predict"
	MessageHeartbeat  = "heartbeat"
	MessageStatus     = "status"
	MessagePrediction = "prediction"
	MessageError      = "error"
)

// Progress states reported before a prediction message.
const (
	StatusProcessing = "PROCESSING"
	StatusAnalyzing  = "ANALYZING"
	StatusComplete   = "COMPLETE"
	StatusSuccess    = "SUCCESS"
)

// Error codes of error messages.
const (
	ErrorCodeInvalidInput  = "INVALID_INPUT"
	ErrorCodePrediction    = "PREDICTION_ERROR"
	ErrorCodeModelNotReady = "MODEL_NOT_READY"
)

// WebSocket upgrader; origins are governed by the CORS setting.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketRequest is a client message.
type WebSocketRequest struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	PlantID     any    `json:"plantId,omitempty"`
	Description string `json:"description,omitempty"`
}

// WebSocketStatus reports progress of a running prediction.
type WebSocketStatus struct {
	Type               string `json:"type"`
	Status             string `json:"status"`
	ProgressPercentage int    `json:"progressPercentage"`
	RequestID          string `json:"requestId"`
	UpdatedAt          string `json:"updatedAt"`
}

// WebSocketPrediction is the final message of a successful prediction.
type WebSocketPrediction struct {
	Type              string                     `json:"type"`
	Status            string                     `json:"status"`
	RequestID         string                     `json:"requestId"`
	PredictionID      uint                       `json:"predictionId,omitempty"`
	PlantID           int64                      `json:"plantId,omitempty"`
	PlantName         string                     `json:"plantName"`
	DiseaseName       string                     `json:"diseaseName"`
	Confidence        float64                    `json:"confidence"`
	RecommendedAction string                     `json:"recommendedAction"`
	PredictedAt       string                     `json:"predictedAt"`
	Result            prediction.MinimalResponse `json:"result"`
}

// WebSocketError reports a failed request.
type WebSocketError struct {
	Type      string `json:"type"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WebSocketHeartbeat answers a client heartbeat.
type WebSocketHeartbeat struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// predictWebSocketHandler upgrades the connection and serves realtime predictions.
func (s *Server) predictWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = s.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", s.clientIP(r),
		"request_id", RequestID(r.Context()))
	s.handleWebSocketConnection(r.Context(), conn)
}

// checkOrigin accepts every origin when CORS is open and otherwise only the
// configured one.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
}

// handleWebSocketConnection reads messages until the client goes away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket closed unexpectedly", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

// handleWebSocketMessage processes one client message.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", ErrorCodeInvalidInput, fmt.Sprintf("failed to parse message: %v", err))
		return
	}

	switch req.Type {
	case MessageHeartbeat:
		s.sendWebSocket(conn, WebSocketHeartbeat{Type: MessageHeartbeat, Timestamp: timestamp()})
	case MessagePredict:
		s.processWebSocketPrediction(ctx, conn, req)
	default:
		s.sendWebSocketError(conn, req.RequestID, ErrorCodeInvalidInput,
			fmt.Sprintf("unsupported message type %q", req.Type))
	}
}

// processWebSocketPrediction sends PROCESSING, ANALYZING and COMPLETE
// status updates followed by the prediction or an error.
func (s *Server) processWebSocketPrediction(ctx context.Context, conn WebSocketConnWriter, req WebSocketRequest) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if req.ImageBase64 == "" {
		s.sendWebSocketError(conn, requestID, ErrorCodeInvalidInput, "imageBase64 is required")
		return
	}
	plantID, err := parsePlantID(req.PlantID)
	if err != nil {
		s.sendWebSocketError(conn, requestID, ErrorCodeInvalidInput, err.Error())
		return
	}

	s.sendWebSocketStatus(conn, requestID, StatusProcessing, 10)
	if !s.pipeline.Ready() {
		s.sendWebSocketError(conn, requestID, ErrorCodeModelNotReady, classifier.ErrModelNotReady.Error())
		return
	}
	s.sendWebSocketStatus(conn, requestID, StatusAnalyzing, 50)

	res, id, err := s.predict(ctx, routeWebSocket, func(ctx context.Context) (*prediction.Result, error) {
		return s.pipeline.PredictBase64(ctx, req.ImageBase64, base64ImageName(""))
	})
	if err != nil {
		s.sendWebSocketError(conn, requestID, errorCodeFor(err), err.Error())
		return
	}

	s.sendWebSocketStatus(conn, requestID, StatusComplete, 100)
	minimal := prediction.Minimal(res)
	s.sendWebSocket(conn, WebSocketPrediction{
		Type:              MessagePrediction,
		Status:            StatusSuccess,
		RequestID:         requestID,
		PredictionID:      id,
		PlantID:           plantID,
		PlantName:         minimal.PlantName,
		DiseaseName:       minimal.DiseaseName,
		Confidence:        minimal.TopConfidence,
		RecommendedAction: minimal.RecommendedAction,
		PredictedAt:       timestamp(),
		Result:            minimal,
	})
}

func errorCodeFor(err error) string {
	switch StatusFor(err) {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ErrorCodeInvalidInput
	case http.StatusServiceUnavailable:
		if errors.Is(err, classifier.ErrModelNotReady) {
			return ErrorCodeModelNotReady
		}
	}
	return ErrorCodePrediction
}

func (s *Server) sendWebSocketStatus(conn WebSocketConnWriter, requestID, status string, progress int) {
	s.sendWebSocket(conn, WebSocketStatus{
		Type:               MessageStatus,
		Status:             status,
		ProgressPercentage: progress,
		RequestID:          requestID,
		UpdatedAt:          timestamp(),
	})
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, code, message string) {
	s.sendWebSocket(conn, WebSocketError{
		Type:      MessageError,
		ErrorCode: code,
		Message:   message,
		RequestID: requestID,
		Timestamp: timestamp(),
	})
}

// sendWebSocket sends a message over WebSocket.
func (s *Server) sendWebSocket(conn WebSocketConnWriter, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339) }
