/*
Package identity implements Rostra's self-sovereign identity primitives.

An identity is nothing but an Ed25519 key pair: the public key, taken
verbatim, is the IdentityId that every event in that identity's DAG is
signed by. There is no registration authority and no certificate chain
— knowledge of the secret key is the only thing that makes an identity
"yours".

Printable forms use zbase32 (human-typeable, case-insensitive, no
padding); secrets additionally round-trip through a BIP-39 mnemonic so
a user can write twenty-four words on paper instead of handling raw
bytes.
*/
package identity
