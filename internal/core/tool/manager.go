package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/domain"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"go.uber.org/zap"
)

// Tool name constants
const (
	ToolNameEscalateToHuman  = "escalate_to_human"
	ToolNameEndCall          = "end_call"
	ToolNameRegisterCustomer = "register_customer"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrControlTool     = errors.New("control tools are handled by the call session")
	ErrInvalidArgument = errors.New("invalid tool arguments")
)

// EmptySchema is used by tools that take no arguments.
var EmptySchema = map[string]interface{}{
	"type":       "object",
	"properties": map[string]interface{}{},
}

// RegisterCustomerSchema describes the register_customer arguments.
var RegisterCustomerSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"name": map[string]interface{}{
			"type":        "string",
			"description": "The caller's full name as they said it.",
		},
		"email": map[string]interface{}{
			"type":        "string",
			"description": "The caller's email address, if they gave one.",
		},
		"notes": map[string]interface{}{
			"type":        "string",
			"description": "A one-sentence summary of what the caller needs.",
		},
	},
	"required": []string{"name"},
}

// CallContext identifies the call a tool runs for.
type CallContext struct {
	StreamSID string
	CallSID   string
	From      string
	To        string
}

// ExecutorFunc runs a tool and returns the JSON result handed back to the model.
type ExecutorFunc func(ctx context.Context, call CallContext, argumentsJSON string) (string, error)

// ToolDefinition defines a tool with its metadata and execution logic.
// Control tools have no Executor; the session acts on them directly.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Control     bool
	Executor    ExecutorFunc
}

// CustomerRegistrar is the registration side API used by register_customer.
type CustomerRegistrar interface {
	Register(ctx context.Context, customer domain.Customer) error
}

// ToolManager manages tool definitions, routing, and execution
type ToolManager struct {
	mu        sync.RWMutex
	registry  map[string]*ToolDefinition
	order     []string
	registrar CustomerRegistrar
}

// NewToolManager creates a manager with the built-in tools. registrar may be
// nil, in which case register_customer is not offered to the model.
func NewToolManager(registrar CustomerRegistrar) *ToolManager {
	m := &ToolManager{
		registry:  make(map[string]*ToolDefinition),
		registrar: registrar,
	}
	m.registerBuiltInTools()
	return m
}

func (m *ToolManager) registerBuiltInTools() {
	m.RegisterTool(&ToolDefinition{
		Name:        ToolNameEscalateToHuman,
		Description: "Transfer the caller to a human agent. Call this when the caller asks for a person or you cannot help them. Tell the caller you are transferring them before calling it.",
		Parameters:  EmptySchema,
		Control:     true,
	})

	m.RegisterTool(&ToolDefinition{
		Name:        ToolNameEndCall,
		Description: "End the phone call. Call this only after the caller has clearly said goodbye.",
		Parameters:  EmptySchema,
		Control:     true,
	})

	if m.registrar != nil {
		m.RegisterTool(&ToolDefinition{
			Name:        ToolNameRegisterCustomer,
			Description: "Save the caller as a customer once they have told you their name.",
			Parameters:  RegisterCustomerSchema,
			Executor:    m.executeRegisterCustomer,
		})
	}
}

// RegisterTool registers a custom tool, replacing any tool of the same name.
func (m *ToolManager) RegisterTool(tool *ToolDefinition) {
	m.mu.Lock()
	if _, exists := m.registry[tool.Name]; !exists {
		m.order = append(m.order, tool.Name)
	}
	m.registry[tool.Name] = tool
	m.mu.Unlock()
	logger.Base().Debug("Registered tool", zap.String("name", tool.Name))
}

// IsControl reports whether name is handled by the session rather than an executor.
func (m *ToolManager) IsControl(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.registry[name]
	return ok && t.Control
}

// Definitions returns the function tool list for the realtime session.update.
func (m *ToolManager) Definitions() []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tools := make([]interface{}, 0, len(m.order))
	for _, name := range m.order {
		t := m.registry[name]
		tools = append(tools, map[string]interface{}{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	return tools
}

// Execute routes a function call to its registered executor.
func (m *ToolManager) Execute(ctx context.Context, call CallContext, name, argumentsJSON string) (string, error) {
	m.mu.RLock()
	t, ok := m.registry[name]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if t.Control || t.Executor == nil {
		return "", ErrControlTool
	}

	logger.ForCall(call.StreamSID, call.CallSID).Info("Executing tool", zap.String("tool", name))
	return t.Executor(ctx, call, argumentsJSON)
}

func (m *ToolManager) executeRegisterCustomer(ctx context.Context, call CallContext, argumentsJSON string) (string, error) {
	var params struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Notes string `json:"notes"`
	}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &params); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	customer := domain.Customer{
		Name:         params.Name,
		Email:        strings.TrimSpace(params.Email),
		Notes:        strings.TrimSpace(params.Notes),
		Phone:        call.From,
		CompanyPhone: call.To,
		CallSID:      call.CallSID,
	}
	if err := m.registrar.Register(ctx, customer); err != nil {
		return "", err
	}
	return `{"success": true, "message": "Customer registered"}`, nil
}
