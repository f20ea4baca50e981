package conversation

// BuildRecipientSet assembles the outbound recipient list for a direct
// send: the primary recipient first, then the additional selections in
// their original order, with duplicates, the primary itself, and the
// local identity filtered out. An empty primary yields nil: additional
// recipients are scoped to one primary target and meaningless without it.
func BuildRecipientSet(primary string, selections []string, localIdentity string) []string {
	if primary == "" {
		return nil
	}

	recipients := []string{primary}
	seen := map[string]bool{
		primary:       true,
		localIdentity: true,
	}

	for _, identity := range selections {
		if identity == "" || seen[identity] {
			continue
		}
		seen[identity] = true
		recipients = append(recipients, identity)
	}

	return recipients
}
