package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	cfg "github.com/jfeldner/tgminer/internal/config"
)

// Placeholder is substituted for empty message text before translation so
// the translator is never fed an empty string.
const Placeholder = "[THIS MESSAGE CONTAINS NO TEXT]"

// Translator converts text between languages. Implementations may fail;
// callers treat failure as "no translation" rather than propagate.
type Translator interface {
	Translate(ctx context.Context, text string, sourceLang string, targetLang string) (string, error)
}

// Client talks to a translation HTTP API.
type Client struct {
	Config *cfg.TranslationConfig
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

func (c *Client) apiRequest(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.Config.ApiUrl+"/"+endpoint,
		bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if code := resp.StatusCode; code != 200 {
		return nil, fmt.Errorf("received http status %v from translation api: %v", code, string(data))
	}
	return data, nil
}

func (c *Client) Translate(
	ctx context.Context,
	text string,
	sourceLang string,
	targetLang string,
) (string, error) {
	encoded, err := json.Marshal(translateRequest{
		Text:   text,
		Source: sourceLang,
		Target: targetLang,
	})
	if err != nil {
		return "", err
	}
	response, err := c.apiRequest(ctx, "translate", encoded)
	if err != nil {
		return "", err
	}
	result := &translateResponse{}
	if err := json.Unmarshal(response, result); err != nil {
		return "", err
	}
	return result.Translation, nil
}
