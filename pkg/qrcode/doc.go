// Package qrcode renders QR codes and builds PIX BR Code payloads.
//
//	payload, image, err := qrcode.GeneratePix(qrcode.PixPayload{
//	    Key:          "billing@example.com",
//	    MerchantName: "Salon SaaS",
//	    MerchantCity: "Sao Paulo",
//	    Amount:       5990,
//	    TxID:         "INV2026000042",
//	}, qrcode.DefaultSize)
//
// payload is the "copia e cola" string; image is a PNG data URI of the same
// payload. Rendering is backed by github.com/skip2/go-qrcode.
package qrcode
