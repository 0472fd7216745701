package gate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Lexicon holds the configurable token and host lists the gate matches on.
type Lexicon struct {
	// SpamTokens are matched against advertiser, caption, product name and
	// landing URL.
	SpamTokens []string `yaml:"spam_tokens"`

	// SocialHosts are landing hosts that are the ad platform itself or a
	// social profile rather than a product page.
	SocialHosts []string `yaml:"social_hosts"`

	// SparkHosts are social hosts admitted as creator-led "spark" ads when
	// spark ads are enabled.
	SparkHosts []string `yaml:"spark_hosts"`

	// MarketplaceHosts are app stores and big-box marketplaces.
	MarketplaceHosts []string `yaml:"marketplace_hosts"`

	// MarketplacePatterns are URL fragments that identify app-store links
	// served from other hosts.
	MarketplacePatterns []string `yaml:"marketplace_patterns"`

	// BrokenSignatures mark a product name scraped from a login wall or
	// error page.
	BrokenSignatures []string `yaml:"broken_signatures"`
}

// DefaultLexicon returns the built-in lists.
func DefaultLexicon() Lexicon {
	return Lexicon{
		SpamTokens: []string{
			// content-app advertisers
			"dreame", "worth reading", "goodnovel", "webnovel", "inkitt", "wattpad",
			"ficfun", "moboreader", "bravonovel", "anystories", "tp 1014 17",
			"happyday", "myno", "readink", "my passion", "twisted love",
			"mystic romance", "shadow romance", "eclipse romance", "dynasty romance",
			"empress of love", "royal guardian", "enchanted kingdom",
			"royal seduction", "phantom love", "hidden legacy", "shattered promises",
			"royal romance", "novels lover", "romance stories",
			// serialized-fiction themes
			"alpha", "luna", "werewolf", "daddy", "breed", "betrayal", "revenge",
			"stepmother", "heartbreak", "prescription", "fighter", "survivor",
			"stolen", "forbidden", "mate", "pack", "omega", "shifter",
			"billionaire romance", "mafia", "vampire", "alpha male", "stepdad",
			"stepson", "billionaire", "ceo romance", "bodyguard", "rejected",
			"romance novel", "story", "chapter", "book one", "episode", "novel app",
			"wolf", "fantasy", "novel", "royals", "heir", "crown", "throne",
			"prophecy", "curse", "immortal", "fated", "soulbound", "dark romance",
			"paranormal", "love stories", "reader",
		},
		SocialHosts: []string{
			"facebook.com", "fb.com", "fb.me", "fb.watch", "messenger.com", "m.me",
			"twitter.com", "x.com", "tiktok.com", "snapchat.com", "threads.net",
		},
		SparkHosts: []string{"instagram.com"},
		MarketplaceHosts: []string{
			"play.google.com", "app.google.com", "apps.apple.com", "itunes.apple.com",
			"app.adjust.com", "walmart.com", "temu.com", "amazon.com", "ebay.com",
			"aliexpress.com",
		},
		MarketplacePatterns: []string{"apple.com/us/app/", "/id15", "/id16", "mt=8"},
		BrokenSignatures:    []string{"login", "sign in", "error", "404"},
	}
}

// LoadLexicon reads a YAML lexicon file. Lists present in the file replace
// the corresponding default list; omitted lists keep their defaults.
func LoadLexicon(path string) (Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return lex, eris.Wrapf(err, "gate: read lexicon %s", path)
	}

	var file Lexicon
	if err := yaml.Unmarshal(data, &file); err != nil {
		return lex, eris.Wrapf(err, "gate: parse lexicon %s", path)
	}

	if file.SpamTokens != nil {
		lex.SpamTokens = file.SpamTokens
	}
	if file.SocialHosts != nil {
		lex.SocialHosts = file.SocialHosts
	}
	if file.SparkHosts != nil {
		lex.SparkHosts = file.SparkHosts
	}
	if file.MarketplaceHosts != nil {
		lex.MarketplaceHosts = file.MarketplaceHosts
	}
	if file.MarketplacePatterns != nil {
		lex.MarketplacePatterns = file.MarketplacePatterns
	}
	if file.BrokenSignatures != nil {
		lex.BrokenSignatures = file.BrokenSignatures
	}
	return lex, nil
}
