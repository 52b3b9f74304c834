package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tools exposes the modem to MCP clients.
type Tools struct {
	Device Device
	Logger *slog.Logger
}

// NewMCPServer registers the modem tools on a new MCP server.
func NewMCPServer(t *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer("simgw", version)

	s.AddTool(mcp.NewTool("send_sms",
		mcp.WithDescription("Send a text message through the cellular modem"),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient number, e.g. +48333222111")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message text")),
	), t.sendSMS)

	s.AddTool(mcp.NewTool("at_command",
		mcp.WithDescription("Send a raw AT command and return the modem's reply"),
		mcp.WithString("command", mcp.Required(), mcp.Description("The command, e.g. AT+CSQ")),
	), t.atCommand)

	s.AddTool(mcp.NewTool("modem_status",
		mcp.WithDescription("Get the signal quality and the session state of the modem"),
	), t.status)

	s.AddTool(mcp.NewTool("mqtt_publish",
		mcp.WithDescription("Publish a message on the modem's MQTT session"),
		mcp.WithString("topic", mcp.Required()),
		mcp.WithString("payload", mcp.Required()),
	), t.mqttPublish)

	s.AddTool(mcp.NewTool("gps_position",
		mcp.WithDescription("Wait for a GNSS fix and return it as lat,lon"),
	), t.position)

	return s
}

func (t *Tools) sendSMS(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.Device.SendSMS(ctx, to, msg)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return mcp.NewToolResultError(fmt.Sprintf("modem refused message: %s", res.Status)), nil
	}
	t.Logger.Info("SMS sent via MCP", "to", to)
	return mcp.NewToolResultText("sent"), nil
}

func (t *Tools) atCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := t.Device.SendRaw(ctx, cmd, defaultATTimeout)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(resp), nil
}

func (t *Tools) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	signal, err := t.Device.SignalQuality(ctx)
	if err != nil {
		return nil, err
	}
	jsonBytes, err := json.MarshalIndent(map[string]any{
		"signal":  signal,
		"session": t.Device.State(),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (t *Tools) mqttPublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := req.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload := req.GetString("payload", "")
	if err := t.Device.Publish(ctx, topic, payload, 0, 0); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("published"), nil
}

func (t *Tools) position(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pos, err := t.Device.Position(ctx)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(pos), nil
}
