// Package repository is the public API composed for callers: it wires the
// Storage Facade and the Notary together and adds the argument-shape
// validation and error-context wrapping the spec assigns to this layer,
// leaving the facade itself free of caller-facing concerns.
package repository

import (
	"context"
	"strings"

	"github.com/cuemby/docrepo/internal/apperr"
	"github.com/cuemby/docrepo/internal/digest"
	"github.com/cuemby/docrepo/internal/facade"
	"github.com/cuemby/docrepo/internal/notary"
)

// Document is a draft or committed payload plus the citation identifying it.
// The citation's Digest field is empty until the document has been
// notarized by SaveDocument or CommitDocument.
type Document struct {
	Citation digest.Citation
	Content  []byte
}

// Repository is the public entrypoint for the document repository. It holds
// no state of its own beyond its two collaborators; all durable state lives
// behind the facade's driver.
type Repository struct {
	facade *facade.Facade
	notary notary.Notary
}

// New composes a Repository from an already-constructed Facade and Notary.
func New(f *facade.Facade, n notary.Notary) *Repository {
	return &Repository{facade: f, notary: n}
}

func wrap(procedure string, args map[string]string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap("repository", procedure, args, err)
}

func validateTag(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return apperr.New("repository", "validate", apperr.KindMalformedRequest, map[string]string{"field": "tag"}, nil)
	}
	return nil
}

func validateName(name digest.Name) error {
	if strings.TrimSpace(string(name)) == "" {
		return apperr.New("repository", "validate", apperr.KindMalformedRequest, map[string]string{"field": "name"}, nil)
	}
	return nil
}

// CreateDocument fetches typeName's citation and document body, merges the
// type's default attributes with the caller's template (a simple line-wise
// append, since the textual document encoding is out of scope here: a
// template line that sets the same attribute as a default line is added
// after it and does not replace it), and returns an un-notarized draft the
// caller still must SaveDocument before it has a citation. permissions is
// opaque caller-supplied access-control metadata: the core does not
// interpret or enforce it (enforcement lives with the caller, same as the
// document encoding itself), it is merged in alongside the template so it
// survives into the returned draft.
func (r *Repository) CreateDocument(ctx context.Context, typeName digest.Name, permissions, template []byte) (Document, error) {
	if err := validateName(typeName); err != nil {
		return Document{}, err
	}

	typeCitation, err := r.facade.ReadName(ctx, typeName)
	if err != nil {
		if isNotFoundErr(err) {
			return Document{}, apperr.New("repository", "CreateDocument", apperr.KindUnknownType, map[string]string{"type": string(typeName)}, err)
		}
		return Document{}, wrap("CreateDocument", map[string]string{"type": string(typeName)}, err)
	}

	defaults, err := r.facade.ReadContract(ctx, typeCitation)
	if err != nil {
		return Document{}, wrap("CreateDocument", map[string]string{"type": string(typeName)}, err)
	}

	merged := mergeTemplate(defaults, permissions, template)
	return Document{Content: merged}, nil
}

// mergeTemplate appends permissions's and then template's non-empty lines
// after defaults' lines; no line of defaults is removed or replaced — the
// minimal merge strategy a content-agnostic core can offer without
// interpreting the document encoding itself.
func mergeTemplate(defaults, permissions, template []byte) []byte {
	defaultLines := strings.Split(string(defaults), "\n")
	merged := make([]string, 0, len(defaultLines)+8)
	if len(defaults) > 0 {
		merged = append(merged, defaultLines...)
	}
	for _, overlay := range [][]byte{permissions, template} {
		if len(overlay) == 0 {
			continue
		}
		for _, line := range strings.Split(string(overlay), "\n") {
			if strings.TrimSpace(line) != "" {
				merged = append(merged, line)
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return []byte(strings.Join(merged, "\n"))
}

// SaveDocument notarizes content under citation's tag/version (or mints
// fresh ones when citation is zero) and stages it as a draft.
func (r *Repository) SaveDocument(ctx context.Context, citation digest.Citation, content []byte) (Document, error) {
	c, _, err := r.notary.Notarize(ctx, content, citation.Tag, citation.Version)
	if err != nil {
		return Document{}, wrap("SaveDocument", map[string]string{"tag": citation.Tag}, err)
	}
	if err := r.facade.WriteDraft(ctx, c, content); err != nil {
		return Document{}, wrap("SaveDocument", map[string]string{"tag": c.Tag}, err)
	}
	return Document{Citation: c, Content: content}, nil
}

// RetrieveDocument reads back the draft for citation.
func (r *Repository) RetrieveDocument(ctx context.Context, citation digest.Citation) (Document, error) {
	if err := validateTag(citation.Tag); err != nil {
		return Document{}, err
	}
	content, err := r.facade.ReadDraft(ctx, citation)
	if err != nil {
		return Document{}, wrap("RetrieveDocument", map[string]string{"tag": citation.Tag}, err)
	}
	return Document{Citation: citation, Content: content}, nil
}

// DiscardDocument deletes the draft for citation, reporting whether one
// existed.
func (r *Repository) DiscardDocument(ctx context.Context, citation digest.Citation) (bool, error) {
	if err := validateTag(citation.Tag); err != nil {
		return false, err
	}
	existed, err := r.facade.DeleteDraft(ctx, citation)
	if err != nil {
		return false, wrap("DiscardDocument", map[string]string{"tag": citation.Tag}, err)
	}
	return existed, nil
}

// CommitDocument notarizes document under name, stages it as a document,
// promotes it to a contract, and binds name to the resulting citation. name
// must not already be bound — CommitDocument never rebinds an existing
// name.
func (r *Repository) CommitDocument(ctx context.Context, name digest.Name, document []byte) (digest.Citation, error) {
	if err := validateName(name); err != nil {
		return digest.Citation{}, err
	}

	bound, err := r.facade.NameExists(ctx, name)
	if err != nil {
		return digest.Citation{}, wrap("CommitDocument", map[string]string{"name": string(name)}, err)
	}
	if bound {
		return digest.Citation{}, apperr.New("repository", "CommitDocument", apperr.KindConflict, map[string]string{"name": string(name)}, nil)
	}

	citation, _, err := r.notary.Notarize(ctx, document, "", "")
	if err != nil {
		return digest.Citation{}, wrap("CommitDocument", map[string]string{"name": string(name)}, err)
	}

	if err := r.facade.WriteDocument(ctx, citation, document); err != nil {
		return digest.Citation{}, wrap("CommitDocument", map[string]string{"name": string(name)}, err)
	}
	if err := r.facade.WriteContract(ctx, citation, document); err != nil {
		return digest.Citation{}, wrap("CommitDocument", map[string]string{"name": string(name)}, err)
	}
	if err := r.facade.WriteName(ctx, name, citation); err != nil {
		return digest.Citation{}, wrap("CommitDocument", map[string]string{"name": string(name)}, err)
	}

	return citation, nil
}

// RetrieveName resolves name to its bound citation and returns the
// committed contract content.
func (r *Repository) RetrieveName(ctx context.Context, name digest.Name) (Document, error) {
	if err := validateName(name); err != nil {
		return Document{}, err
	}
	citation, err := r.facade.ReadName(ctx, name)
	if err != nil {
		return Document{}, wrap("RetrieveName", map[string]string{"name": string(name)}, err)
	}
	content, err := r.facade.ReadContract(ctx, citation)
	if err != nil {
		return Document{}, wrap("RetrieveName", map[string]string{"name": string(name)}, err)
	}
	return Document{Citation: citation, Content: content}, nil
}

// -- Message delegation --------------------------------------------------------

func (r *Repository) MessageAvailable(ctx context.Context, bag digest.Citation) (bool, error) {
	ok, err := r.facade.MessageAvailable(ctx, bag)
	return ok, wrap("MessageAvailable", map[string]string{"bag": bag.Tag}, err)
}

func (r *Repository) MessageCount(ctx context.Context, bag digest.Citation) (int, error) {
	n, err := r.facade.MessageCount(ctx, bag)
	return n, wrap("MessageCount", map[string]string{"bag": bag.Tag}, err)
}

// AddMessage notarizes content and enqueues it into bag.
func (r *Repository) AddMessage(ctx context.Context, bag digest.Citation, content []byte) (digest.Citation, error) {
	citation, _, err := r.notary.Notarize(ctx, content, "", "")
	if err != nil {
		return digest.Citation{}, wrap("AddMessage", map[string]string{"bag": bag.Tag}, err)
	}
	if err := r.facade.AddMessage(ctx, bag, facade.Message{Citation: citation, Content: content}); err != nil {
		return digest.Citation{}, wrap("AddMessage", map[string]string{"bag": bag.Tag}, err)
	}
	return citation, nil
}

func (r *Repository) BorrowMessage(ctx context.Context, bag digest.Citation) (Document, bool, error) {
	msg, err := r.facade.BorrowMessage(ctx, bag)
	if err != nil {
		return Document{}, false, wrap("BorrowMessage", map[string]string{"bag": bag.Tag}, err)
	}
	if msg == nil {
		return Document{}, false, nil
	}
	return Document{Citation: msg.Citation, Content: msg.Content}, true, nil
}

func (r *Repository) ReturnMessage(ctx context.Context, bag digest.Citation, document Document) (Document, error) {
	returned, err := r.facade.ReturnMessage(ctx, bag, facade.Message{Citation: document.Citation, Content: document.Content})
	if err != nil {
		return Document{}, wrap("ReturnMessage", map[string]string{"bag": bag.Tag, "message": document.Citation.Tag}, err)
	}
	return Document{Citation: returned.Citation, Content: returned.Content}, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, bag digest.Citation, messageTag digest.Citation) ([]byte, error) {
	content, err := r.facade.DeleteMessage(ctx, bag, messageTag)
	if err != nil {
		return nil, wrap("DeleteMessage", map[string]string{"bag": bag.Tag, "message": messageTag.Tag}, err)
	}
	return content, nil
}

func isNotFoundErr(err error) bool {
	return apperr.Is(err, apperr.KindNotFound)
}
