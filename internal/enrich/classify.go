package enrich

import (
	"regexp"
	"strings"
)

// OtherCategory is assigned when no keyword matches.
const OtherCategory = "Other"

type category struct {
	name     string
	keywords []string
}

// categories are checked in order; the first of equally scored categories wins.
var categories = []category{
	{"Beauty & Health", []string{
		"skincare", "makeup", "beauty", "cosmetic", "serum", "cream", "lotion", "moisturizer",
		"anti-aging", "wrinkle", "cleanser", "wellness", "vitamin", "supplement", "collagen",
		"hair care", "shampoo", "perfume", "acne", "sunscreen", "healthy skin", "essential oil",
	}},
	{"Women's Clothing", []string{
		"dress", "blouse", "skirt", "women's", "ladies", "gown", "leggings", "cardigan",
		"jumpsuit", "romper", "maxi dress", "yoga pants", "sports bra",
	}},
	{"Men's Clothing", []string{
		"men's shirt", "polo", "chinos", "suit", "blazer", "men's jacket", "hoodie",
		"men's shorts", "cargo pants", "dress shirt", "men's jeans",
	}},
	{"Shoes", []string{
		"shoes", "sneakers", "boots", "sandals", "heels", "loafers", "slippers",
		"running shoes", "footwear", "trainers",
	}},
	{"Jewelry & Accessories", []string{
		"jewelry", "necklace", "bracelet", "earring", "earrings", "ring", "pendant",
		"anklet", "gemstone", "diamond", "pearl", "accessory",
	}},
	{"Watches", []string{"watch", "timepiece", "smartwatch", "chronograph", "wristwatch"}},
	{"Luggage & Bags", []string{
		"bag", "handbag", "backpack", "purse", "tote", "luggage", "suitcase",
		"crossbody", "wallet", "travel bag",
	}},
	{"Home & Garden", []string{
		"plant", "garden", "patio", "lawn", "gardening", "flower", "planter", "seeds", "succulent",
	}},
	{"Furniture", []string{
		"sofa", "couch", "chair", "table", "desk", "bed", "mattress", "dresser",
		"bookshelf", "nightstand", "office chair", "standing desk",
	}},
	{"Home Appliances", []string{
		"vacuum", "air fryer", "blender", "microwave", "humidifier", "dehumidifier",
		"air purifier", "heater", "dishwasher",
	}},
	{"Consumer Electronics", []string{
		"phone", "smartphone", "tablet", "laptop", "headphones", "earbuds", "speaker",
		"camera", "projector", "drone", "gaming", "keyboard",
	}},
	{"Sports & Entertainment", []string{
		"fitness", "exercise", "workout", "gym", "athletic", "yoga mat", "dumbbells",
		"resistance band", "camping", "hiking", "fishing", "golf",
	}},
	{"Toys & Hobbies", []string{
		"toy", "toys", "doll", "lego", "puzzle", "board game", "stuffed animal", "craft", "hobby",
	}},
	{"Mother & Kids", []string{
		"baby", "infant", "toddler", "children", "maternity", "diaper", "stroller", "crib", "pacifier",
	}},
	{"Pet Products", []string{
		"pet", "dog", "cat", "puppy", "kitten", "pet food", "leash", "litter box", "pet bed",
	}},
	{"Food", []string{
		"snack", "chocolate", "candy", "coffee", "tea", "protein bar", "gourmet", "spice", "sauce", "smoothie",
	}},
	{"Automobiles & Motorcycles", []string{
		"car", "auto", "vehicle", "motorcycle", "car accessories", "dash cam", "tire", "car care",
	}},
	{"Lights & Lighting", []string{
		"lamp", "led", "bulb", "chandelier", "string lights", "night light", "lantern",
	}},
	{"Underwear & Accessories", []string{
		"underwear", "lingerie", "bra", "boxers", "briefs", "pajamas", "sleepwear", "shapewear",
	}},
	{"Gift", []string{"gift", "gift box", "gift set", "personalized gift", "birthday gift"}},
}

type compiledKeyword struct {
	re     *regexp.Regexp
	weight int
}

var compiled = func() [][]compiledKeyword {
	out := make([][]compiledKeyword, len(categories))
	for i, c := range categories {
		for _, kw := range c.keywords {
			out[i] = append(out[i], compiledKeyword{
				re:     regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
				weight: len(strings.Fields(kw)),
			})
		}
	}
	return out
}()

// Classify assigns a product category from the ad's free text. Each keyword
// occurrence scores its word count; the highest scoring category wins.
func Classify(caption, productName, advertiser, landingURL string) string {
	text := strings.ToLower(strings.Join([]string{caption, productName, advertiser, landingURL}, " "))
	if strings.TrimSpace(text) == "" {
		return OtherCategory
	}

	best, bestScore := OtherCategory, 0
	for i, kws := range compiled {
		score := 0
		for _, kw := range kws {
			score += len(kw.re.FindAllStringIndex(text, -1)) * kw.weight
		}
		if score > bestScore {
			best, bestScore = categories[i].name, score
		}
	}
	return best
}
