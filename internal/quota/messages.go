package quota

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"adstudio/internal/domain"
)

const (
	keyLimitReached   = "quota.limit_reached"
	keyRemaining      = "quota.remaining"
	keyIdentityNeeded = "quota.identity_needed"
)

var supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(supported)

func init() {
	_ = message.SetString(language.English, keyLimitReached, "You've used all %d of your regenerations. Your current images are still available.")
	_ = message.SetString(language.Indonesian, keyLimitReached, "Anda telah memakai %d kesempatan regenerasi. Gambar Anda saat ini tetap tersedia.")
	_ = message.SetString(language.English, keyRemaining, "%d of %d regenerations left.")
	_ = message.SetString(language.Indonesian, keyRemaining, "Sisa %d dari %d regenerasi.")
	_ = message.SetString(language.English, keyIdentityNeeded, "Please verify your email to regenerate all images.")
	_ = message.SetString(language.Indonesian, keyIdentityNeeded, "Silakan verifikasi email Anda untuk membuat ulang semua gambar.")
}

func printer(locale string) *message.Printer {
	tag, _ := language.MatchStrings(matcher, locale)
	base, _ := tag.Base()
	for _, t := range supported {
		if b, _ := t.Base(); b == base {
			return message.NewPrinter(t)
		}
	}
	return message.NewPrinter(language.English)
}

// Message renders the calm, user-facing text for a quota status.
func Message(locale string, status domain.QuotaStatus) string {
	p := printer(locale)
	if !status.CanProceed || status.Used >= status.Max {
		return p.Sprintf(keyLimitReached, status.Max)
	}
	return p.Sprintf(keyRemaining, status.Max-status.Used, status.Max)
}

// IdentityMessage is shown when bulk regeneration needs a verified email.
func IdentityMessage(locale string) string {
	return printer(locale).Sprintf(keyIdentityNeeded)
}
