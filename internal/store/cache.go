// Package store はリソースごとのクライアント側キャッシュを提供する。
//
// 設計方針: 実体は正規化されたエンティティ表（IDキー）に1箇所だけ保持し、
// 一覧はIDの並びとして導出する。同一エンティティが複数の一覧
// （全応募・求人別応募・自分の応募など）に同時にキャッシュされていても、
// 更新は表への1回のパッチで全一覧に伝播し、コピー間の不整合が原理的に起きない。
//
// 全ての変更は単一のミューテックス下でコミットされ、部分的な書き込みが
// 読み取り側から見えることはない。一覧の取得には世代番号によるフェンシングを
// 行い、追い越されたレスポンスのコミットは破棄される。
package store

import "sync"

// Entity はキャッシュに格納できるエンティティ。
type Entity interface {
	EntityID() string
}

// Pagination は正規化済みのページング情報。
type Pagination struct {
	CurrentPage int
	TotalPages  int
	Total       int
}

// view は1つの一覧（導出されたIDの並び）を表す。
type view struct {
	ids  []string
	page Pagination
	gen  uint64
}

// Cache は1リソース型のクライアント側キャッシュ。
type Cache[T Entity] struct {
	mu       sync.Mutex
	entities map[string]T
	views    map[string]*view
}

// New はCacheを生成する。
func New[T Entity]() *Cache[T] {
	return &Cache[T]{
		entities: make(map[string]T),
		views:    make(map[string]*view),
	}
}

// Begin は一覧取得の開始を宣言し、新しい世代番号を返す。
// 以降のCommitReplace / CommitAppendはこの世代番号と一致した場合のみ反映される。
// 同じ一覧に対して後からBeginが呼ばれると、先行する取得のコミットは無効になる。
func (c *Cache[T]) Begin(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.viewLocked(name)
	v.gen++
	return v.gen
}

// CommitReplace は一覧をサーバーページの内容で置き換える。
// 世代番号が古い場合は何も変更せずfalseを返す（最後に開始した取得が勝つ）。
func (c *Cache[T]) CommitReplace(name string, gen uint64, items []T, pg Pagination) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.viewLocked(name)
	if v.gen != gen {
		return false
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		c.entities[item.EntityID()] = item
		ids = append(ids, item.EntityID())
	}
	v.ids = ids
	v.page = pg
	return true
}

// CommitAppend は次ページの内容を既存の一覧の末尾に追加する（無限スクロール累積）。
// 既に一覧に含まれるIDは重複追加しない。世代番号が古い場合は破棄してfalseを返す。
func (c *Cache[T]) CommitAppend(name string, gen uint64, items []T, pg Pagination) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.viewLocked(name)
	if v.gen != gen {
		return false
	}

	seen := make(map[string]bool, len(v.ids))
	for _, id := range v.ids {
		seen[id] = true
	}
	for _, item := range items {
		id := item.EntityID()
		c.entities[id] = item
		if seen[id] {
			continue
		}
		v.ids = append(v.ids, id)
		seen[id] = true
	}
	v.page = pg
	return true
}

// Prepend は新規作成されたエンティティを一覧の先頭に挿入する（楽観的更新）。
// 総件数は1増える。
func (c *Cache[T]) Prepend(name string, item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.viewLocked(name)
	id := item.EntityID()
	c.entities[id] = item

	ids := make([]string, 0, len(v.ids)+1)
	ids = append(ids, id)
	for _, existing := range v.ids {
		if existing == id {
			continue
		}
		ids = append(ids, existing)
	}
	v.ids = ids
	v.page.Total++
}

// Put はエンティティを表にのみ格納する。一覧には影響しない。
// 単体取得（selectedスロット）に使用する。
func (c *Cache[T]) Put(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[item.EntityID()] = item
}

// Patch は表の該当エンティティに更新関数を適用する。
// 実体は1箇所なので、そのIDを含む全ての一覧が同時に収束する。
// エンティティが存在しない場合はfalseを返す。
func (c *Cache[T]) Patch(id string, fn func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entities[id]
	if !ok {
		return false
	}
	c.entities[id] = fn(item)
	return true
}

// Remove はエンティティを指定された全一覧から取り除き、表からも削除する。
// IDを含んでいた一覧の総件数を1減らす。総件数は0未満にはしない。
func (c *Cache[T]) Remove(id string, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		v, ok := c.views[name]
		if !ok {
			continue
		}
		kept := v.ids[:0]
		found := false
		for _, existing := range v.ids {
			if existing == id {
				found = true
				continue
			}
			kept = append(kept, existing)
		}
		v.ids = kept
		if found && v.page.Total > 0 {
			v.page.Total--
		}
	}
	delete(c.entities, id)
}

// Get は表からエンティティを取得する。
func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entities[id]
	return item, ok
}

// Items は一覧をサーバー順で実体化して返す。返り値は呼び出し側専有のコピー。
func (c *Cache[T]) Items(name string) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[name]
	if !ok {
		return nil
	}
	items := make([]T, 0, len(v.ids))
	for _, id := range v.ids {
		if item, exists := c.entities[id]; exists {
			items = append(items, item)
		}
	}
	return items
}

// PaginationOf は一覧のページング情報を返す。
func (c *Cache[T]) PaginationOf(name string) Pagination {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[name]
	if !ok {
		return Pagination{CurrentPage: 1}
	}
	return v.page
}

// Reset は一覧を空に戻し、実行中の取得コミットを無効化する。
// フィルタ変更時の1ページ目への巻き戻しに使用する。
func (c *Cache[T]) Reset(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		v, ok := c.views[name]
		if !ok {
			continue
		}
		v.ids = nil
		v.page = Pagination{CurrentPage: 1}
		v.gen++
	}
}

// ViewNames は存在する一覧名を返す。削除のfan-out対象の列挙に使用する。
func (c *Cache[T]) ViewNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.views))
	for name := range c.views {
		names = append(names, name)
	}
	return names
}

// viewLocked は一覧を取得し、存在しなければ作成する。呼び出し側でロック済みであること。
func (c *Cache[T]) viewLocked(name string) *view {
	v, ok := c.views[name]
	if !ok {
		v = &view{page: Pagination{CurrentPage: 1}}
		c.views[name] = v
	}
	return v
}
