package qrcode

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// PixPayload holds the fields of a static PIX "copia e cola" code (BR Code, EMV layout).
type PixPayload struct {
	Key          string // PIX key of the receiver: email, phone, CNPJ or random key
	MerchantName string
	MerchantCity string
	Amount       int64  // minor units (centavos); zero leaves the amount open
	TxID         string // reference echoed back on payment, alphanumeric, up to 25 chars
	Description  string
}

// String encodes the payload in EMV TLV form, terminated by its CRC16 checksum.
func (p PixPayload) String() string {
	var b strings.Builder

	b.WriteString(tlv("00", "01")) // payload format indicator
	b.WriteString(tlv("01", "12")) // point of initiation: dynamic, single use

	account := tlv("00", "br.gov.bcb.pix") + tlv("01", p.Key)
	if p.Description != "" {
		account += tlv("02", truncate(p.Description, 40))
	}
	b.WriteString(tlv("26", account))

	b.WriteString(tlv("52", "0000")) // merchant category code
	b.WriteString(tlv("53", "986"))  // BRL
	if p.Amount > 0 {
		b.WriteString(tlv("54", fmt.Sprintf("%d.%02d", p.Amount/100, p.Amount%100)))
	}
	b.WriteString(tlv("58", "BR"))
	b.WriteString(tlv("59", truncate(p.MerchantName, 25)))
	b.WriteString(tlv("60", truncate(p.MerchantCity, 15)))

	txid := p.TxID
	if txid == "" {
		txid = "***"
	}
	b.WriteString(tlv("62", tlv("05", truncate(txid, 25))))

	b.WriteString("6304")
	return b.String() + fmt.Sprintf("%04X", crc16(b.String()))
}

// Validate checks the fields a payer's bank needs to accept the code.
func (p PixPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.Key) == "":
		return fmt.Errorf("%w: key is required", ErrInvalidPixPayload)
	case strings.TrimSpace(p.MerchantName) == "":
		return fmt.Errorf("%w: merchant name is required", ErrInvalidPixPayload)
	case strings.TrimSpace(p.MerchantCity) == "":
		return fmt.Errorf("%w: merchant city is required", ErrInvalidPixPayload)
	case p.Amount < 0:
		return fmt.Errorf("%w: amount cannot be negative", ErrInvalidPixPayload)
	}
	return nil
}

// GeneratePix validates p and returns its copy-paste string and QR image data URI.
func GeneratePix(p PixPayload, size int) (payload, image string, err error) {
	if err := p.Validate(); err != nil {
		return "", "", err
	}
	payload = p.String()
	image, err = DataURI(payload, size)
	if err != nil {
		return "", "", err
	}
	return payload, image, nil
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// crc16 is CRC-16/CCITT-FALSE as required by the BR Code spec.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
