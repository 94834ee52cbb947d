// Package photo picks holder photos and card images out of a results page,
// downloads them through the browser and persists holder photos to disk.
package photo

import (
	"strings"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
)

var holderHints = []string{"photo", "holder", "cardholder"}

// SelectCandidates picks at most one holder photo and one card image.
// An image chosen as the holder photo is never reused as the card image.
func SelectCandidates(images []domain.ImageDescriptor, scheme string) (holder, card *domain.ImageDescriptor) {
	cardHints := []string{"card"}
	if s := strings.ToLower(strings.TrimSpace(scheme)); s != "" {
		cardHints = append(cardHints, s)
	}

	holderIdx := -1
	for i := range images {
		if images[i].URL == "" {
			continue
		}
		if matchesAny(images[i], holderHints) {
			holder = &images[i]
			holderIdx = i
			break
		}
	}

	for i := range images {
		if i == holderIdx || images[i].URL == "" {
			continue
		}
		if matchesAny(images[i], cardHints) {
			card = &images[i]
			break
		}
	}

	return holder, card
}

func matchesAny(img domain.ImageDescriptor, hints []string) bool {
	haystack := strings.ToLower(img.URL + " " + img.Alt + " " + img.Class)
	for _, h := range hints {
		if strings.Contains(haystack, h) {
			return true
		}
	}
	return false
}
