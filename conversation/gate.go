package conversation

// CanAttemptDecrypt reports whether the local identity is entitled to
// attempt decryption of a message. Received messages qualify through the
// recipient clause; sent messages qualify through the sender clause,
// because the sender is sealed into its own envelopes as an implicit first
// recipient and redisplays sent history without a plaintext cache.
//
// Messages that fail the gate render as a placeholder, never silently
// dropped, so timeline ordering is preserved.
func CanAttemptDecrypt(sender, recipient, localIdentity string) bool {
	return recipient == localIdentity || sender == localIdentity
}
