package pubtator

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// VerifyEntity reports whether a PubTator ID actually exists: the ID must
// pass the shape checks and show up among the annotation groups of a
// publication search for itself. Shape failures return false without
// spending a network call.
func VerifyEntity(ctx context.Context, client *Client, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if !strings.HasPrefix(id, "@") {
		log.Debug().Str("id", id).Msg("pubtator id without '@' prefix")
		return false, nil
	}
	if !idHasValidPrefix(id) {
		log.Debug().Str("id", id).Msg("pubtator id with invalid prefix")
		return false, nil
	}
	if strings.Contains(id, " ") {
		log.Debug().Str("id", id).Msg("pubtator id with space")
		return false, nil
	}

	publications, err := client.SearchPublications(ctx, id)
	if err != nil {
		return false, err
	}
	for _, pub := range publications {
		if pub.TextHL == nil {
			continue
		}
		for _, entity := range extractEntities(*pub.TextHL) {
			for _, found := range entity.PubtatorIDs {
				if found == id {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
