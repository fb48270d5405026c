package valkey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient validates and stores a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := client.Validate(); err != nil {
		return err
	}

	data, err := marshalRecord(client)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(data).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// FindEnabledClientByID returns an enabled client. Missing and disabled
// clients both yield ErrClientNotFound.
func (s *Store) FindEnabledClientByID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_client", err, startTime)
	}()

	client, err := getAndUnmarshal[storage.Client](ctx, s, s.clientKey(clientID), storage.ErrClientNotFound)
	if err != nil {
		return nil, err
	}
	if !client.Enabled {
		return nil, storage.ErrClientNotFound
	}
	return client, nil
}

// ============================================================
// APIResourceStore Implementation
// ============================================================

// SaveAPIResource stores an API resource and indexes it by its scopes.
func (s *Store) SaveAPIResource(ctx context.Context, api *storage.APIResource) error {
	if api == nil || api.Name == "" {
		return fmt.Errorf("invalid api resource")
	}

	data, err := marshalRecord(api)
	if err != nil {
		return err
	}

	cmds := make([]valkeygo.Completed, 0, len(api.Scopes)+1)
	cmds = append(cmds, s.client.B().Set().Key(s.apiResourceKey(api.Name)).Value(data).Build())
	for _, scope := range api.Scopes {
		cmds = append(cmds, s.client.B().Sadd().Key(s.scopeIndexKey(scope)).Member(api.Name).Build())
	}

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to save api resource: %w", err)
		}
	}

	s.logger.Debug("Saved API resource", "name", api.Name, "scopes", len(api.Scopes))
	return nil
}

// FindAPIResourceByName returns an enabled API resource.
func (s *Store) FindAPIResourceByName(ctx context.Context, name string) (_ *storage.APIResource, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_api_resource")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_api_resource", err, startTime)
	}()

	api, err := getAndUnmarshal[storage.APIResource](ctx, s, s.apiResourceKey(name), storage.ErrAPIResourceNotFound)
	if err != nil {
		return nil, err
	}
	if !api.Enabled {
		return nil, storage.ErrAPIResourceNotFound
	}
	return api, nil
}

// FindAPIResourcesByScope returns the enabled API resources declaring any of
// scopes, sorted by name.
func (s *Store) FindAPIResourcesByScope(ctx context.Context, scopes []string) ([]*storage.APIResource, error) {
	names := make(map[string]struct{})
	for _, scope := range scopes {
		members, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.scopeIndexKey(scope)).Build()).AsStrSlice()
		if err != nil {
			return nil, fmt.Errorf("failed to read scope index: %w", err)
		}
		for _, name := range members {
			names[name] = struct{}{}
		}
	}

	result := make([]*storage.APIResource, 0, len(names))
	for name := range names {
		api, err := s.FindAPIResourceByName(ctx, name)
		if errors.Is(err, storage.ErrAPIResourceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// The index is not pruned when a resource drops a scope.
		if len(util.Intersect(api.Scopes, scopes)) == 0 {
			continue
		}
		result = append(result, api)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
