package photo_test

import (
	"testing"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
)

func TestSelectCandidates(t *testing.T) {
	tests := []struct {
		name       string
		images     []domain.ImageDescriptor
		scheme     string
		wantHolder string
		wantCard   string
	}{
		{
			name:   "no images",
			scheme: "CSCS",
		},
		{
			name: "holder by alt, card by class",
			images: []domain.ImageDescriptor{
				{URL: "https://p/logo.svg", Alt: "logo"},
				{URL: "https://p/a.jpg", Alt: "Cardholder photo"},
				{URL: "https://p/b.png", Class: "card-front"},
			},
			scheme:     "CSCS",
			wantHolder: "https://p/a.jpg",
			wantCard:   "https://p/b.png",
		},
		{
			name: "holder not reused as card image",
			images: []domain.ImageDescriptor{
				{URL: "https://p/card-holder-photo.jpg"},
			},
			scheme:     "CSCS",
			wantHolder: "https://p/card-holder-photo.jpg",
		},
		{
			name: "card image by scheme name",
			images: []domain.ImageDescriptor{
				{URL: "https://p/cpcs-front.png", Alt: "front"},
			},
			scheme:   "CPCS",
			wantCard: "https://p/cpcs-front.png",
		},
		{
			name: "first holder match wins",
			images: []domain.ImageDescriptor{
				{URL: "https://p/1.jpg", Class: "holder"},
				{URL: "https://p/2.jpg", Class: "holder"},
			},
			wantHolder: "https://p/1.jpg",
		},
		{
			name: "images without url are skipped",
			images: []domain.ImageDescriptor{
				{URL: "", Alt: "photo"},
				{URL: "https://p/2.jpg", Alt: "photo"},
			},
			wantHolder: "https://p/2.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holder, card := photo.SelectCandidates(tt.images, tt.scheme)

			gotHolder, gotCard := "", ""
			if holder != nil {
				gotHolder = holder.URL
			}
			if card != nil {
				gotCard = card.URL
			}

			if gotHolder != tt.wantHolder {
				t.Errorf("holder = %q, want %q", gotHolder, tt.wantHolder)
			}
			if gotCard != tt.wantCard {
				t.Errorf("card = %q, want %q", gotCard, tt.wantCard)
			}
		})
	}
}

func TestMIMEFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://p/a.png", "image/png"},
		{"https://p/a.PNG?x=1", "image/png"},
		{"https://p/a.gif", "image/gif"},
		{"https://p/a.webp#frag", "image/webp"},
		{"https://p/a.jpeg", "image/jpeg"},
		{"https://p/photo", "image/jpeg"},
	}

	for _, tt := range tests {
		if got := photo.MIMEFromURL(tt.url); got != tt.want {
			t.Errorf("MIMEFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestDecodeDataURI(t *testing.T) {
	uri := photo.EncodeDataURI("image/png", []byte{1, 2, 3})

	mimeType, data, err := photo.DecodeDataURI(uri)
	if err != nil {
		t.Fatalf("DecodeDataURI() error = %v", err)
	}
	if mimeType != "image/png" || len(data) != 3 {
		t.Errorf("DecodeDataURI() = %q, %v", mimeType, data)
	}

	for _, bad := range []string{
		"",
		"https://p/a.png",
		"data:image/png;base64",
		"data:text/plain;base64,AAAA",
		"data:image/png,AAAA",
		"data:image/png;base64,!!!",
		"data:image/png;base64,",
	} {
		if _, _, err := photo.DecodeDataURI(bad); err == nil {
			t.Errorf("DecodeDataURI(%q) expected error", bad)
		}
	}
}
