package handlers

// ErrorPayload is the client-facing error block.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client-facing copy per locale. Italian is the product's home market.
var deniedMessages = map[string]string{
	"en": "You have no credits or free tries left.",
	"it": "Non hai crediti sufficienti o tentativi gratuiti disponibili.",
}

var unknownFeatureMessages = map[string]string{
	"en": "Unknown premium feature.",
	"it": "Funzione premium sconosciuta.",
}

func deniedMessage(locale string) string {
	if m, ok := deniedMessages[locale]; ok {
		return m
	}
	return deniedMessages["en"]
}

func unknownFeatureMessage(locale string) string {
	if m, ok := unknownFeatureMessages[locale]; ok {
		return m
	}
	return unknownFeatureMessages["en"]
}
