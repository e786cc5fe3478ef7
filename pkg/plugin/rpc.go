package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake is used to verify that the plugin and host are compatible
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SKILLTOOLS_PLUGIN",
	MagicCookieValue: "skilltools-handler-v1",
}

const pluginName = "handlers"

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	pluginName: &HandlerPlugin{},
}

// Handlers is implemented inside a plugin binary. Invoke receives validated
// arguments and returns the result object, which must carry a boolean
// "success" field like any other handler result.
type Handlers interface {
	Tools() ([]string, error)
	Invoke(tool string, args map[string]any) (map[string]any, error)
}

// Serve runs impl as a plugin. It is called from the plugin binary's main.
func Serve(impl Handlers) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			pluginName: &HandlerPlugin{Impl: impl},
		},
	})
}

// HandlerPlugin is the implementation of plugin.Plugin for net/rpc.
type HandlerPlugin struct {
	Impl Handlers
}

func (p *HandlerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *HandlerPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// Empty is the argument of calls that take none.
type Empty struct{}

// InvokeArgs are the arguments for the Invoke RPC call. Args travel as
// JSON so arbitrary nesting survives the gob transport.
type InvokeArgs struct {
	Tool string
	Args []byte
}

// InvokeResp is the response for the Invoke RPC call
type InvokeResp struct {
	Result []byte
	Error  string
}

// ToolsResp is the response for the Tools RPC call
type ToolsResp struct {
	Tools []string
	Error string
}

// RPCServer is the RPC server that RPCClient talks to
type RPCServer struct {
	Impl Handlers
}

func (s *RPCServer) Tools(_ Empty, resp *ToolsResp) error {
	tools, err := s.Impl.Tools()
	resp.Tools = tools
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

func (s *RPCServer) Invoke(args InvokeArgs, resp *InvokeResp) error {
	params := map[string]any{}
	if len(args.Args) > 0 {
		if err := json.Unmarshal(args.Args, &params); err != nil {
			resp.Error = fmt.Sprintf("invalid arguments: %v", err)
			return nil
		}
	}

	result, err := s.Impl.Invoke(args.Tool, params)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("failed to encode result: %v", err)
		return nil
	}
	resp.Result = data
	return nil
}

// RPCClient is the RPC client that talks to RPCServer
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps a connected net/rpc client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

func (c *RPCClient) Tools() ([]string, error) {
	var resp ToolsResp
	if err := c.client.Call("Plugin.Tools", Empty{}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Tools, nil
}

func (c *RPCClient) Invoke(tool string, args map[string]any) (map[string]any, error) {
	return c.InvokeContext(context.Background(), tool, args)
}

// InvokeContext calls the plugin and gives up when ctx ends. The plugin
// call itself keeps running; its reply is discarded.
func (c *RPCClient) InvokeContext(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	var resp InvokeResp
	call := c.client.Go("Plugin.Invoke", InvokeArgs{Tool: tool, Args: data}, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
	}
	if call.Error != nil {
		return nil, fmt.Errorf("plugin call failed: %w", call.Error)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	result := map[string]any{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode plugin result: %w", err)
	}
	return result, nil
}
