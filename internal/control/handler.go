// Package control implements the optional MQTT control plane: a small
// command/response protocol for inspecting and steering a running
// watcher.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/avwatch/cecaudio/internal/config"
)

// Command represents a control plane command.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains the watcher hooks the handler invokes.
type CommandCallbacks struct {
	OnGetStatus func() map[string]interface{}
	OnPause     func() error
	OnResume    func() error
	OnSetDryRun func(bool) error
	OnShutdown  func() error
}

// Handler subscribes to the control topic and dispatches commands.
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// NewHandler creates a control plane handler.
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and begins processing.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop unsubscribes and stops processing.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler queues an incoming command.
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands drains the command queue.
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes one command and publishes the response.
func (h *Handler) handleCommand(cmd Command) {
	h.sendResponse(h.dispatch(cmd))
}

// dispatch executes a command against the callbacks.
func (h *Handler) dispatch(cmd Command) Response {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "pause":
		resp = h.simple(cmd, h.callbacks.OnPause)

	case "resume":
		resp = h.simple(cmd, h.callbacks.OnResume)

	case "set_dry_run":
		if h.callbacks.OnSetDryRun == nil {
			resp.Status = "error"
			resp.Error = "set_dry_run not implemented"
			break
		}
		enabled, ok := cmd.Params["enabled"].(bool)
		if !ok {
			resp.Status = "error"
			resp.Error = "set_dry_run requires boolean param 'enabled'"
			break
		}
		if err := h.callbacks.OnSetDryRun(enabled); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"dry_run": enabled}
		}

	case "shutdown":
		resp = h.simple(cmd, h.callbacks.OnShutdown)

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

// simple runs a parameterless callback and builds its response.
func (h *Handler) simple(cmd Command, fn func() error) Response {
	resp := Response{CommandAck: cmd.Command}
	if fn == nil {
		resp.Status = "error"
		resp.Error = cmd.Command + " not implemented"
		return resp
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	resp.Status = "success"
	return resp
}

// sendResponse publishes a response on the control response topic.
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal control response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Control + "/response"
	token := h.client.Publish(topic, h.cfg.MQTT.QoS["control"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("control response publish timeout", "command", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish control response", "error", err)
	}
}
