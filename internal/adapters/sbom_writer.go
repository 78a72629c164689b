package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/ports"
	"package-mirror/internal/types"
)

const DefaultSBOMNamespace = "https://spdx.org/spdxdocs/package-mirror"

// SBOMWriterAdapter writes SPDX 2.3 JSON documents with one package per
// mirrored version, each carrying its package URL.
type SBOMWriterAdapter struct {
	NamespaceBase string
	Now           func() time.Time
}

func NewSBOMWriterAdapter() SBOMWriterAdapter {
	return SBOMWriterAdapter{NamespaceBase: DefaultSBOMNamespace}
}

func (a SBOMWriterAdapter) namespaceBase() string {
	if strings.TrimSpace(a.NamespaceBase) == "" {
		return DefaultSBOMNamespace
	}
	return strings.TrimRight(a.NamespaceBase, "/")
}

func (a SBOMWriterAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

type spdxCreationInfo struct {
	Created  string   `json:"created"`
	Creators []string `json:"creators"`
}

type spdxExternalRef struct {
	Category string `json:"referenceCategory"`
	Type     string `json:"referenceType"`
	Locator  string `json:"referenceLocator"`
}

type spdxPackage struct {
	SPDXID           string            `json:"SPDXID"`
	Name             string            `json:"name"`
	VersionInfo      string            `json:"versionInfo"`
	DownloadLocation string            `json:"downloadLocation"`
	LicenseConcluded string            `json:"licenseConcluded"`
	LicenseDeclared  string            `json:"licenseDeclared"`
	Supplier         string            `json:"supplier"`
	Summary          string            `json:"summary,omitempty"`
	ExternalRefs     []spdxExternalRef `json:"externalRefs"`
}

type spdxRelationship struct {
	SpdxElementID      string `json:"spdxElementId"`
	RelationshipType   string `json:"relationshipType"`
	RelatedSpdxElement string `json:"relatedSpdxElement"`
}

type spdxDocument struct {
	SPDXVersion       string             `json:"spdxVersion"`
	DataLicense       string             `json:"dataLicense"`
	SPDXID            string             `json:"SPDXID"`
	Name              string             `json:"name"`
	DocumentNamespace string             `json:"documentNamespace"`
	CreationInfo      spdxCreationInfo   `json:"creationInfo"`
	Packages          []spdxPackage      `json:"packages"`
	Relationships     []spdxRelationship `json:"relationships"`
	DocumentDescribes []string           `json:"documentDescribes"`
}

func (a SBOMWriterAdapter) WriteSBOM(ctx context.Context, path string, inventory []types.PackageSearchMetadata) error {
	if strings.TrimSpace(path) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("sbom path is empty")
	}
	ordered := slices.Clone(inventory)
	slices.SortFunc(ordered, func(a, b types.PackageSearchMetadata) int {
		return types.CompareIdentities(a.Identity, b.Identity)
	})

	doc := spdxDocument{
		SPDXVersion:       "SPDX-2.3",
		DataLicense:       "CC0-1.0",
		SPDXID:            "SPDXRef-DOCUMENT",
		Name:              "package-mirror inventory",
		DocumentNamespace: fmt.Sprintf("%s/%s", a.namespaceBase(), uuid.NewString()),
		CreationInfo: spdxCreationInfo{
			Created:  a.now().Format(time.RFC3339),
			Creators: []string{"Tool: package-mirror"},
		},
		Packages:          []spdxPackage{},
		Relationships:     []spdxRelationship{},
		DocumentDescribes: []string{},
	}
	for _, meta := range ordered {
		if !meta.Identity.HasVersion() {
			continue
		}
		version := meta.Identity.Version.Normalized()
		spdxID := spdxPackageID(meta.Identity.ID, version)
		doc.Packages = append(doc.Packages, spdxPackage{
			SPDXID:           spdxID,
			Name:             meta.Identity.ID,
			VersionInfo:      version,
			DownloadLocation: "NOASSERTION",
			LicenseConcluded: "NOASSERTION",
			LicenseDeclared:  "NOASSERTION",
			Supplier:         spdxSupplier(meta.Authors),
			Summary:          firstNonBlank(meta.Summary, meta.Title),
			ExternalRefs: []spdxExternalRef{{
				Category: "PACKAGE-MANAGER",
				Type:     "purl",
				Locator:  meta.Identity.PURL(),
			}},
		})
		doc.DocumentDescribes = append(doc.DocumentDescribes, spdxID)
		doc.Relationships = append(doc.Relationships, spdxRelationship{
			SpdxElementID:      "SPDXRef-DOCUMENT",
			RelationshipType:   "DESCRIBES",
			RelatedSpdxElement: spdxID,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to marshal sbom").
			WithCause(err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create sbom directory").
				WithCause(err)
		}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write sbom").
			WithCause(err)
	}
	log.Ctx(ctx).Info().Int("packages", len(doc.Packages)).Str("path", path).Msg("wrote sbom")
	return nil
}

func spdxPackageID(name string, version string) string {
	seed := fmt.Sprintf("%s@%s", strings.ToLower(name), strings.ToLower(version))
	hash := sha256.Sum256([]byte(seed))
	return "SPDXRef-Package-" + hex.EncodeToString(hash[:8])
}

func spdxSupplier(authors string) string {
	if strings.TrimSpace(authors) == "" {
		return "NOASSERTION"
	}
	return "Organization: " + strings.TrimSpace(authors)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ ports.SBOMWriter = SBOMWriterAdapter{}
