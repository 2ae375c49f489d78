package gcal

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unmarshalling token: %w", err)
	}
	return &tok, nil
}
