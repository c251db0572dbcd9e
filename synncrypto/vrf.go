package synncrypto

// VRF derives per-block entropy from the previous random value and the
// view counter (spec GLOSSARY). BLS signatures are deterministic given
// (sk, msg) and publicly verifiable, so a VRF is built directly on top
// of Sign/Verify: the proof *is* the signature, and the random output is
// a hash of it. This mirrors the "BLS as VRF" construction used by
// several BFT chains and avoids pulling in a second curve library next
// to the one the teacher already ships (herumi/bls-eth-go-binary).

// VRFProve evaluates the VRF over seed (typically last_random||view)
// and returns the pseudo-random output together with its proof.
func VRFProve(sk SecretKey, seed []byte) (output [32]byte, proof Signature) {
	proof = sk.Sign(seed)
	output = Hash(proof.Bytes())
	return output, proof
}

// VRFVerify checks that proof is a valid VRF proof for seed under pk,
// and returns the derived output if so.
func VRFVerify(pk PublicKey, seed []byte, proof Signature) (output [32]byte, ok bool) {
	if !Verify(pk, seed, proof) {
		return [32]byte{}, false
	}
	return Hash(proof.Bytes()), true
}
