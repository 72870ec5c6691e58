package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/orchestra-mcp/collab/src/logging"
	"github.com/orchestra-mcp/collab/src/peer"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

const requestTimeout = 10 * time.Second

// connectFlags are shared by every command that joins a room.
type connectFlags struct {
	server   string
	room     string
	token    string
	user     string
	password string
	codec    string
}

func (f *connectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "http://localhost:3000", "relay base URL")
	cmd.Flags().StringVarP(&f.room, "room", "r", "", "room to join")
	cmd.Flags().StringVar(&f.token, "token", "", "identity token (skips login)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "username to log in with")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "password to log in with")
	cmd.Flags().StringVar(&f.codec, "codec", "json", "wire codec: json or msgpack")
	cmd.MarkFlagRequired("room")
}

// connect logs in when needed and joins the room.
func (f *connectFlags) connect(ctx context.Context) (*peer.Client, error) {
	token := f.token
	if token == "" {
		if f.user == "" {
			return nil, errors.New("either --token or --user/--password is required")
		}
		var err error
		if token, err = login(f.server, f.user, f.password); err != nil {
			return nil, err
		}
	}
	wsURL, err := websocketURL(f.server)
	if err != nil {
		return nil, err
	}
	return peer.Dial(ctx, peer.Options{
		URL:    wsURL,
		Room:   f.room,
		Token:  token,
		Codec:  f.codec,
		Logger: logging.FromEnv(),
	})
}

// websocketURL maps http(s)://host to ws(s)://host/ws.
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// login exchanges credentials for a token via POST /api/auth/login.
func login(server, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	status, err := doJSON(fasthttp.MethodPost, strings.TrimSuffix(server, "/")+"/api/auth/login", body, &out)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if status != fasthttp.StatusOK {
		return "", fmt.Errorf("login failed (%d): %s", status, out.Error)
	}
	return out.Token, nil
}

func doJSON(method, uri string, body []byte, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if err := fasthttp.DoTimeout(req, resp, requestTimeout); err != nil {
		return 0, err
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp.StatusCode(), fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode(), nil
}
