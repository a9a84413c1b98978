package pairing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

// CardVersion is the current pairing card format.
const CardVersion = 1

// Card carries what an operator needs to pair a subordinate with a node:
// the node's device id, name, sync address and role.
type Card struct {
	Version    int    `json:"v"`
	DeviceID   string `json:"id"`
	DeviceName string `json:"name"`
	Address    string `json:"addr,omitempty"`
	Role       string `json:"role"`
	// Expires is a Unix timestamp. Zero means the card does not expire.
	Expires int64 `json:"exp,omitempty"`
}

// NewCard creates a card. A zero ttl creates a card that never expires.
func NewCard(deviceID, deviceName, address, role string, ttl time.Duration) Card {
	card := Card{
		Version:    CardVersion,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Address:    address,
		Role:       role,
	}
	if ttl > 0 {
		card.Expires = time.Now().Add(ttl).Unix()
	}
	return card
}

// Encode returns the card's JSON text.
func (c Card) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "unable to encode pairing card")
	}
	return string(data), nil
}

// PNG renders the card as a QR code image.
func (c Card) PNG(size int) ([]byte, error) {
	text, err := c.Encode()
	if err != nil {
		return nil, err
	}
	image, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "unable to render QR code")
	}
	return image, nil
}

// Terminal renders the card as a QR code made of block characters.
func (c Card) Terminal() (string, error) {
	text, err := c.Encode()
	if err != nil {
		return "", err
	}
	code, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return "", errors.Wrap(err, "unable to render QR code")
	}
	return code.ToSmallString(false), nil
}

// ParseCard decodes and validates a card.
func ParseCard(text string) (*Card, error) {
	var card Card
	if err := json.Unmarshal([]byte(text), &card); err != nil {
		return nil, errors.Wrap(err, "invalid pairing card format")
	}
	if card.Version != CardVersion {
		return nil, errors.Errorf("unsupported pairing card version: %d", card.Version)
	}
	if card.DeviceID == "" {
		return nil, errors.New("pairing card has no device id")
	}
	if card.Expires != 0 && time.Now().Unix() > card.Expires {
		return nil, errors.New("pairing card has expired")
	}
	return &card, nil
}

// Fingerprint returns a short digest of a device id for visual comparison.
func Fingerprint(deviceID string) string {
	hash := sha256.Sum256([]byte(deviceID))
	return base64.RawURLEncoding.EncodeToString(hash[:8])
}
