package extract

func extractPlain(content []byte) (*Extraction, error) {
	return textOnly(string(content)), nil
}
