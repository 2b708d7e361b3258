package discord

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// NewSession returns a REST-only session. The gateway is never opened.
func NewSession(token string) (*discordgo.Session, error) {
	return discordgo.New("Bot " + token)
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}
