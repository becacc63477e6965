package tokenize

// stopwords covers high-frequency function words across the languages bank
// descriptions commonly arrive in (en, es, fr, it, de, pt) plus payment
// boilerplate that carries no categorization signal.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range [...]string{
		// english
		"the", "and", "for", "with", "from", "this", "that", "are", "was",
		"you", "your", "not", "have", "has", "had", "but", "all", "any",
		// spanish
		"los", "las", "por", "para", "con", "una", "uno", "del", "que", "como",
		// french
		"les", "des", "une", "aux", "par", "pour", "avec", "sur", "est", "aux",
		// italian
		"gli", "della", "dello", "delle", "degli", "per", "con", "una", "nel",
		// german
		"der", "die", "das", "und", "von", "mit", "fuer", "eine", "einen", "dem",
		// portuguese
		"dos", "das", "uma", "com", "por", "para", "nao", "seu", "sua", "mais",
		// payment boilerplate
		"card", "payment", "purchase", "pos", "tst", "inc", "llc", "ltd",
	} {
		stopwords[w] = struct{}{}
	}
}
