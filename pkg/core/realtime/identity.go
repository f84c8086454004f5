package realtime

import "strings"

const fallbackPrefix = "resp:"

// FallbackID is the key used for streamed content that arrives with only a
// response id. The prefix keeps it out of the explicit item id space.
func FallbackID(responseID string) string {
	return fallbackPrefix + responseID
}

func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, fallbackPrefix)
}

// Ref is the raw identity carried by an event.
type Ref struct {
	ItemID     string
	ResponseID string
}

// Resolver maps event identities onto transcript item ids.
//
// An explicit item id always wins. Whenever an event carries both an item id
// and a response id the pair is remembered, so later events that only carry
// the response id land on the same item. If content for the response was
// already streamed under a fallback key, the explicit id is bound to that
// existing row instead, and both keys converge on one item. Only the first
// explicit id of a response claims its fallback row; later items of the same
// response stay distinct.
type Resolver struct {
	exists     func(id string) bool
	byResponse map[string]string
	byItem     map[string]string
	claimed    map[string]string
}

// NewResolver returns a resolver. exists reports whether an item id is
// already present in the transcript.
func NewResolver(exists func(id string) bool) *Resolver {
	if exists == nil {
		exists = func(string) bool { return false }
	}
	return &Resolver{
		exists:     exists,
		byResponse: make(map[string]string),
		byItem:     make(map[string]string),
		claimed:    make(map[string]string),
	}
}

// Resolve returns the transcript item id for ref, or false when ref carries
// no usable identity.
func (r *Resolver) Resolve(ref Ref) (string, bool) {
	item := strings.TrimSpace(ref.ItemID)
	resp := strings.TrimSpace(ref.ResponseID)

	if item != "" {
		if canon, ok := r.byItem[item]; ok {
			return canon, true
		}
		if resp == "" {
			return item, true
		}
		if canon, ok := r.byResponse[resp]; ok {
			if IsFallbackID(canon) {
				return r.claim(item, canon), true
			}
			return item, true
		}
		if fb := FallbackID(resp); r.exists(fb) {
			r.byResponse[resp] = fb
			return r.claim(item, fb), true
		}
		r.byResponse[resp] = item
		return item, true
	}

	if resp != "" {
		if canon, ok := r.byResponse[resp]; ok {
			return canon, true
		}
		return FallbackID(resp), true
	}
	return "", false
}

// claim binds item to the fallback row fb unless another item already owns it.
func (r *Resolver) claim(item, fb string) string {
	if owner, ok := r.claimed[fb]; ok && owner != item {
		return item
	}
	r.claimed[fb] = item
	r.byItem[item] = fb
	return fb
}

// Lookup resolves an explicit item id without recording anything.
func (r *Resolver) Lookup(itemID string) string {
	itemID = strings.TrimSpace(itemID)
	if canon, ok := r.byItem[itemID]; ok {
		return canon
	}
	return itemID
}
